package ops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

// Hasher generates the sha256 content hash of an item. A directory hashes
// the sorted list of its file hashes and relative paths, so the result
// changes when any file is added, removed, renamed or modified.
type Hasher struct{}

func NewHasher() *Hasher {
	return &Hasher{}
}

func (h *Hasher) Name() string {
	return TypeHash
}

func (h *Hasher) Run(ctx context.Context, task *pipeline.Task) error {
	it := task.Item
	progress := taskProgress(task)

	if it.Kind != item.Directory {
		sum, err := hashFile(ctx, task, it.ID, it.Size, progress)
		if err != nil {
			return err
		}
		task.SetMetadata(MetaSHA256, sum)
		return nil
	}

	paths, files := sourceFiles(it)
	weights := item.Weights(files)

	lines := make([]string, len(paths))
	for i, path := range paths {
		sum, err := hashFile(ctx, task, path, files[i].Size, item.Weighted(progress, weights[i]))
		if err != nil {
			return err
		}
		lines[i] = fmt.Sprintf("%s  %s\n", sum, files[i].RelPath)
	}
	sort.Strings(lines)

	dh := sha256.New()
	for _, line := range lines {
		dh.Write([]byte(line))
	}
	task.SetMetadata(MetaSHA256, hex.EncodeToString(dh.Sum(nil)))
	task.UpdateProgress(100)
	return nil
}

func hashFile(ctx context.Context, task *pipeline.Task, path string, size int64, progress item.Progress) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	h := sha256.New()
	if _, err := copyProgress(ctx, task, h, in, size, progress); err != nil {
		return "", fmt.Errorf("failed to generate hash for %s: %w", path, err)
	}
	progress.UpdateProgress(100)
	return hex.EncodeToString(h.Sum(nil)), nil
}
