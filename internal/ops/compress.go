package ops

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/pgzip"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

// Compressor writes a gzip copy of a file, or a gzipped tar of a
// directory, into a destination tree.
type Compressor struct {
	destination string
}

func NewCompressor(destination string) *Compressor {
	return &Compressor{destination: destination}
}

func (c *Compressor) Name() string {
	return TypeCompress
}

func (c *Compressor) PreflightCheck(ctx context.Context) error {
	return os.MkdirAll(c.destination, 0o755)
}

func (c *Compressor) Run(ctx context.Context, task *pipeline.Task) error {
	it := task.Item

	suffix := ".gz"
	if it.Kind == item.Directory {
		suffix = ".tar.gz"
	}
	target := filepath.Join(c.destination, it.Rel) + suffix

	out, err := createPartial(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	gz := pgzip.NewWriter(out)
	if it.Kind == item.Directory {
		err = writeTar(ctx, task, gz, it, taskProgress(task))
	} else {
		err = c.compressFile(ctx, task, gz, it)
	}
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		out.abort()
		return err
	}

	info, err := out.Stat()
	if err != nil {
		out.abort()
		return err
	}
	if err := out.commit(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	task.SetMetadata(MetaPath, target)
	task.SetMetadata(MetaBytes, strconv.FormatInt(info.Size(), 10))
	task.UpdateProgress(100)
	return nil
}

func (c *Compressor) compressFile(ctx context.Context, task *pipeline.Task, w io.Writer, it *item.Item) error {
	in, err := os.Open(it.ID)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", it.ID, err)
	}
	defer in.Close()

	if _, err := copyProgress(ctx, task, w, in, it.Size, taskProgress(task)); err != nil {
		return fmt.Errorf("failed to compress %s: %w", it.ID, err)
	}
	return nil
}

// writeTar streams the files of a directory item as a tar archive rooted at
// the directory's base name.
func writeTar(ctx context.Context, task *pipeline.Task, w io.Writer, it *item.Item, progress item.Progress) error {
	tw := tar.NewWriter(w)
	base := filepath.Base(it.ID)
	paths, files := sourceFiles(it)
	weights := item.Weights(files)

	for i, path := range paths {
		if err := tarFile(ctx, task, tw, path, filepath.Join(base, files[i].RelPath), item.Weighted(progress, weights[i])); err != nil {
			return err
		}
	}
	return tw.Close()
}

func tarFile(ctx context.Context, task *pipeline.Task, tw *tar.Writer, path, name string, progress item.Progress) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(name)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	// the header fixes the size, so copy exactly that much
	if _, err := copyProgress(ctx, task, tw, io.LimitReader(in, info.Size()), info.Size(), progress); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	progress.UpdateProgress(100)
	return nil
}
