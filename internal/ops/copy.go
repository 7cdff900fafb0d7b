package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

// Copier copies an item into a destination tree, keeping its path relative
// to the monitored root and its modification times.
type Copier struct {
	destination string
}

func NewCopier(destination string) *Copier {
	return &Copier{destination: destination}
}

func (c *Copier) Name() string {
	return TypeCopy
}

func (c *Copier) PreflightCheck(ctx context.Context) error {
	return os.MkdirAll(c.destination, 0o755)
}

func (c *Copier) Run(ctx context.Context, task *pipeline.Task) error {
	it := task.Item
	target := filepath.Join(c.destination, it.Rel)
	progress := taskProgress(task)

	if it.Kind != item.Directory {
		if err := copyFile(ctx, task, it.ID, target, it.Size, progress); err != nil {
			return err
		}
		task.SetMetadata(MetaPath, target)
		return nil
	}

	paths, files := sourceFiles(it)
	weights := item.Weights(files)
	for i, path := range paths {
		dst := filepath.Join(target, files[i].RelPath)
		if err := copyFile(ctx, task, path, dst, files[i].Size, item.Weighted(progress, weights[i])); err != nil {
			return err
		}
	}
	task.SetMetadata(MetaPath, target)
	task.UpdateProgress(100)
	return nil
}

func copyFile(ctx context.Context, task *pipeline.Task, src, dst string, size int64, progress item.Progress) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := createPartial(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := copyProgress(ctx, task, out, in, size, progress); err != nil {
		out.abort()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		out.abort()
		return err
	}
	if err := out.commit(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	progress.UpdateProgress(100)
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
