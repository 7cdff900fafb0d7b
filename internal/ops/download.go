package ops

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/studio1767/filemon/internal/pipeline"
)

// Downloader fetches URL items over HTTP into a destination tree laid out
// as host/path.
type Downloader struct {
	client      *http.Client
	destination string
}

func NewDownloader(client *http.Client, destination string) *Downloader {
	return &Downloader{client: client, destination: destination}
}

func (d *Downloader) Name() string {
	return TypeDownload
}

func (d *Downloader) Run(ctx context.Context, task *pipeline.Task) error {
	link := task.Item.URL
	target, err := d.target(link)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to download %s: unexpected status %s", link, resp.Status)
	}

	out, err := createPartial(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	nbytes, err := copyProgress(ctx, task, out, resp.Body, resp.ContentLength, taskProgress(task))
	if err != nil {
		out.abort()
		return fmt.Errorf("failed to download %s: %w", link, err)
	}
	if err := out.commit(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	task.SetMetadata(MetaPath, target)
	task.SetMetadata(MetaBytes, strconv.FormatInt(nbytes, 10))
	task.UpdateProgress(100)
	return nil
}

// target maps a URL to a local file. Paths ending in a slash are stored as
// index.html.
func (d *Downloader) target(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %s", link)
	}

	p := path.Clean("/" + u.Path)
	if p == "/" || strings.HasSuffix(u.Path, "/") {
		p = path.Join(p, "index.html")
	}
	return within(d.destination, u.Host+p)
}
