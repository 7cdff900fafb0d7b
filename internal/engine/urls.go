package engine

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
)

// URLFile adds every URL listed in a file. Blank lines and lines starting
// with # are ignored.
type URLFile struct {
	file   string
	logger *zap.Logger
}

func NewURLFile(file string, logger *zap.Logger) *URLFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLFile{
		file:   file,
		logger: logger.With(zap.String("file", file)),
	}
}

func (u *URLFile) Name() string {
	return NameURLs
}

// Run loads the file once and then waits for ctx to be done.
func (u *URLFile) Run(ctx context.Context, sink Sink) error {
	items, err := u.load()
	if err != nil {
		return err
	}
	if len(items) > 0 {
		u.logger.Info("urls loaded", zap.Int("count", len(items)))
		if err := sink.Add(items...); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (u *URLFile) load() ([]*item.Item, error) {
	f, err := os.Open(u.file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var items []*item.Item

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := url.ParseRequestURI(line); err != nil {
			u.logger.Warn("ignoring invalid url", zap.String("url", line), zap.Error(err))
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		items = append(items, item.NewURL(line).WithStatus(item.Saved))
	}
	return items, scanner.Err()
}
