package manifest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/studio1767/filemon/internal/s3io"
)

type ErrNoSuchManifest struct {
	msg string
}

func (e *ErrNoSuchManifest) Error() string {
	return e.msg
}

// Entry is one line of a manifest: an item that went through the uploader
// during a monitoring session.
type Entry struct {
	Size    int64
	ModTime int64
	Mode    os.FileMode
	Hash    string
	Path    string
}

// Line renders the entry as "size,mtime,mode,hash,path" with the path
// escaped so it never contains a comma.
func (e Entry) Line() string {
	return fmt.Sprintf("%d,%d,0%o,%s,%s\n",
		e.Size,
		e.ModTime,
		e.Mode&0777,
		e.Hash,
		url.PathEscape(e.Path),
	)
}

func ParseLine(line string) (Entry, error) {
	tokens := strings.Split(strings.TrimSpace(line), ",")
	if len(tokens) != 5 {
		return Entry{}, fmt.Errorf("malformed manifest line: %q", line)
	}

	var e Entry
	if _, err := fmt.Sscanf(tokens[0], "%d", &e.Size); err != nil {
		return Entry{}, fmt.Errorf("size: %w", err)
	}
	if _, err := fmt.Sscanf(tokens[1], "%d", &e.ModTime); err != nil {
		return Entry{}, fmt.Errorf("mtime: %w", err)
	}
	if _, err := fmt.Sscanf(tokens[2], "%o", &e.Mode); err != nil {
		return Entry{}, fmt.Errorf("mode: %w", err)
	}
	e.Hash = tokens[3]

	path, err := url.PathUnescape(tokens[4])
	if err != nil {
		return Entry{}, err
	}
	e.Path = path

	return e, nil
}

// Scan calls fn for every well formed line of r. Malformed lines are
// skipped.
func Scan(ctx context.Context, r io.Reader, fn func(Entry) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Writer appends entries to a manifest. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	count int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (mw *Writer) Write(e Entry) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if _, err := io.WriteString(mw.w, e.Line()); err != nil {
		return fmt.Errorf("failed writing entry to manifest: %w", err)
	}
	mw.count++
	return nil
}

func (mw *Writer) Count() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.count
}

func prefix(name, label string) string {
	return fmt.Sprintf("manifests/%s/%s/", name, label)
}

// Key builds the key of a manifest uploaded at the given time.
func Key(name, label string, now time.Time) string {
	stamp := now.Format("2006-01-02")
	seconds := (((now.Hour() * 60) + now.Minute()) * 60) + now.Second()
	return fmt.Sprintf("%s%s-%s-%s-%05d.csv.gz", prefix(name, label), name, label, stamp, seconds)
}

// Download fetches the newest manifest for name and label into a temporary
// file. The caller closes and removes the file.
func Download(ctx context.Context, client s3io.Client, name, label string) (*os.File, string, error) {
	mkey, _, err := client.LatestMatching(ctx, prefix(name, label))
	if err != nil {
		var nomatch *s3io.ErrNoMatch
		if errors.As(err, &nomatch) {
			return nil, "", &ErrNoSuchManifest{
				msg: fmt.Sprintf("no manifest for %s:%s", name, label),
			}
		}
		return nil, "", err
	}

	f, err := DownloadWithKey(ctx, client, mkey)

	return f, mkey, err
}

func DownloadWithKey(ctx context.Context, client s3io.Client, mkey string) (*os.File, error) {
	// downloads are decompressed, so drop the .gz suffix
	mname := strings.TrimSuffix(filepath.Base(mkey), ".gz")

	f, err := os.CreateTemp("", mname+".*")
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*os.File, error) {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	if _, err := client.Download(ctx, mkey, f, nil); err != nil {
		return fail(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}

	return f, nil
}

// Upload stores a manifest compressed and, when the client has a
// passphrase, encrypted with it.
func Upload(ctx context.Context, client s3io.Client, source io.Reader, name, label string) (string, error) {
	mkey := Key(name, label, time.Now())

	_, err := client.Upload(ctx, mkey, source, s3io.UploadOptions{
		Compress:   true,
		Passphrase: client.HasPassphrase(),
	})

	return mkey, err
}
