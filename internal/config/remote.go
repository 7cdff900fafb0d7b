package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/studio1767/filemon/internal/s3io"
)

type ErrNoSuchConfig struct {
	msg string
}

func (e *ErrNoSuchConfig) Error() string {
	return e.msg
}

func remotePrefix(name string) string {
	return fmt.Sprintf("configs/%s/", name)
}

// NextKey returns the key following latest in the configs/<name>/<name>-NNN.yml
// sequence. An empty latest starts the sequence at 001.
func NextKey(name, latest string) (string, error) {
	if latest == "" {
		latest = fmt.Sprintf("%s%s-000.yml", remotePrefix(name), name)
	}

	re := regexp.MustCompile(fmt.Sprintf(`^(.*/%s-)(\d+)(.*)$`, regexp.QuoteMeta(name)))
	matches := re.FindStringSubmatch(latest)
	if len(matches) != 4 {
		return "", fmt.Errorf("unexpected config key: %s", latest)
	}

	id, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%03d%s", matches[1], id+1, matches[3]), nil
}

// Download fetches and parses the newest stored version of a config.
func Download(ctx context.Context, client s3io.Client, name string) (*Config, string, error) {
	data, key, err := DownloadRaw(ctx, client, name)
	if err != nil {
		return nil, key, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, key, fmt.Errorf("%s: %w", key, err)
	}
	cfg.Name = name

	return cfg, key, nil
}

// DownloadRaw fetches the newest stored version of a config as stored.
func DownloadRaw(ctx context.Context, client s3io.Client, name string) ([]byte, string, error) {
	key, _, err := client.LatestMatching(ctx, remotePrefix(name))
	if err != nil {
		var nomatch *s3io.ErrNoMatch
		if errors.As(err, &nomatch) {
			return nil, "", &ErrNoSuchConfig{
				msg: fmt.Sprintf("no such config: %s", name),
			}
		}
		return nil, "", err
	}

	data := bytes.NewBuffer(nil)
	if _, err := client.Download(ctx, key, data, nil); err != nil {
		return nil, key, err
	}
	return data.Bytes(), key, nil
}

// Upload stores source as the next version of the named config.
func Upload(ctx context.Context, client s3io.Client, source io.Reader, name string) (string, error) {
	latest, _, err := client.LatestMatching(ctx, remotePrefix(name))
	if err != nil {
		var nomatch *s3io.ErrNoMatch
		if !errors.As(err, &nomatch) {
			return "", err
		}
		latest = ""
	}

	key, err := NextKey(name, latest)
	if err != nil {
		return "", err
	}

	_, err = client.Upload(ctx, key, source, s3io.UploadOptions{
		Compress:   true,
		Passphrase: client.HasPassphrase(),
	})

	return key, err
}
