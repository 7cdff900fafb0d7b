package engine

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
)

const defaultDirectoryPoll = 2 * time.Second

type DirectoryOptions struct {
	Root string

	// Directories reports each first level directory as one item instead
	// of reporting individual files.
	Directories     bool
	ProcessExisting bool
	PollInterval    time.Duration

	IncludeTopDirs []string
	ExcludeTopDirs []string
	SkipDirs       []string
	SkipDirItems   []string
	Extensions     []string
}

// signature is what a poll compares to spot changes.
type signature struct {
	size    int64
	modTime time.Time
	count   int
}

// Directory polls a local tree and reports new and changed entries.
type Directory struct {
	opts   DirectoryOptions
	rules  *rules
	logger *zap.Logger

	seen map[string]signature
}

func NewDirectory(opts DirectoryOptions, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultDirectoryPoll
	}
	return &Directory{
		opts:   opts,
		rules:  newRules(opts),
		logger: logger.With(zap.String("root", opts.Root)),
	}
}

func (d *Directory) Name() string {
	if d.opts.Directories {
		return NameDirectories
	}
	return NameFiles
}

func (d *Directory) Run(ctx context.Context, sink Sink) error {
	if err := d.poll(ctx, sink); err != nil {
		return err
	}

	ticker := jitterbug.New(d.opts.PollInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.poll(ctx, sink); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Warn("directory poll failed", zap.Error(err))
			}
		}
	}
}

// candidate is one entry found by a scan.
type candidate struct {
	id  string
	sig signature
	new func() *item.Item
}

// poll scans the tree once and reports the difference to the previous
// scan. The first poll only records the baseline, unless existing entries
// are to be processed.
func (d *Directory) poll(ctx context.Context, sink Sink) error {
	var found []candidate
	var err error
	if d.opts.Directories {
		found, err = d.scanDirectories(ctx)
	} else {
		found, err = d.scanFiles(ctx)
	}
	if err != nil {
		return err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })

	first := d.seen == nil
	current := make(map[string]signature, len(found))

	var added, changed []*item.Item
	for _, c := range found {
		current[c.id] = c.sig
		if first {
			if d.opts.ProcessExisting {
				added = append(added, c.new().WithStatus(item.Saved))
			}
			continue
		}
		prev, ok := d.seen[c.id]
		switch {
		case !ok:
			added = append(added, c.new())
		case prev != c.sig:
			changed = append(changed, c.new().WithStatus(item.Saved))
		}
	}
	d.seen = current

	if len(added) > 0 {
		d.logger.Debug("new entries found", zap.String("items", describe(added)))
		if err := sink.Add(added...); err != nil {
			return err
		}
	}
	if len(changed) > 0 {
		d.logger.Debug("changed entries found", zap.String("items", describe(changed)))
		if err := sink.Add(changed...); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) scanFiles(ctx context.Context) ([]candidate, error) {
	root := d.opts.Root
	var found []candidate
	err := d.rules.walk(ctx, root, 0, func(path string, info fs.FileInfo) {
		found = append(found, candidate{
			id:  path,
			sig: signature{size: info.Size(), modTime: info.ModTime()},
			new: func() *item.Item { return item.NewFile(root, path, info) },
		})
	})
	return found, err
}

func (d *Directory) scanDirectories(ctx context.Context) ([]candidate, error) {
	root := d.opts.Root
	dirs, err := d.rules.topDirs(root)
	if err != nil {
		return nil, err
	}

	var found []candidate
	for _, dir := range dirs {
		var files []item.FileEntry
		var sig signature
		err := d.rules.walk(ctx, dir, 1, func(path string, info fs.FileInfo) {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, item.FileEntry{RelPath: rel, Size: info.Size()})
			sig.size += info.Size()
			sig.count++
			if info.ModTime().After(sig.modTime) {
				sig.modTime = info.ModTime()
			}
		})
		if err != nil {
			return nil, err
		}
		if d.rules.marked(dir) {
			continue
		}

		dir := dir
		found = append(found, candidate{
			id:  dir,
			sig: sig,
			new: func() *item.Item { return item.NewDirectory(root, dir, files) },
		})
	}
	return found, nil
}
