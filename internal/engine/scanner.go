package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/studio1767/filemon/internal/item"
)

// rules decide which parts of a tree are monitored.
type rules struct {
	includeTopDirs map[string]bool
	excludeTopDirs map[string]bool
	skipDirs       map[string]bool
	skipDirItems   map[string]bool
	extensions     []string
}

func newRules(opts DirectoryOptions) *rules {
	set := func(names []string) map[string]bool {
		m := make(map[string]bool, len(names))
		for _, n := range names {
			m[n] = true
		}
		return m
	}
	return &rules{
		includeTopDirs: set(opts.IncludeTopDirs),
		excludeTopDirs: set(opts.ExcludeTopDirs),
		skipDirs:       set(opts.SkipDirs),
		skipDirItems:   set(opts.SkipDirItems),
		extensions:     item.NormalizeExtensions(opts.Extensions),
	}
}

// skipTop applies the include and exclude lists of the first level.
func (r *rules) skipTop(name string) bool {
	if len(r.includeTopDirs) > 0 && !r.includeTopDirs[name] {
		return true
	}
	return r.excludeTopDirs[name]
}

// marked reports whether dir holds one of the skip marker items.
func (r *rules) marked(dir string) bool {
	for skip := range r.skipDirItems {
		if _, err := os.Stat(filepath.Join(dir, skip)); err == nil {
			return true
		}
	}
	return false
}

func (r *rules) wanted(name string) bool {
	return len(r.extensions) == 0 || item.HasExtension(name, r.extensions)
}

// walk calls fn for every monitored regular file below dir. level is the
// depth of dir below the monitored root.
func (r *rules) walk(ctx context.Context, dir string, level int, fn func(path string, info fs.FileInfo)) error {
	if r.marked(dir) {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// the directory may have gone between listing and reading
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())

		switch {
		case entry.Type().IsRegular():
			if !r.wanted(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			fn(path, info)

		case entry.IsDir():
			if level == 0 && r.skipTop(entry.Name()) {
				continue
			}
			if r.skipDirs[entry.Name()] {
				continue
			}
			if err := r.walk(ctx, path, level+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// topDirs lists the monitored first level directories of root.
func (r *rules) topDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || r.skipTop(entry.Name()) || r.skipDirs[entry.Name()] {
			continue
		}
		dirs = append(dirs, filepath.Join(root, entry.Name()))
	}
	return dirs, nil
}
