package ops

import (
	"context"
	"path/filepath"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

// ExtensionFilter skips files based on their extension. Without exclude,
// files that don't match are skipped; with exclude, files that do match
// are skipped. Matching ignores case.
type ExtensionFilter struct {
	extensions []string
	exclude    bool
}

func NewExtensionFilter(extensions []string, exclude bool) *ExtensionFilter {
	return &ExtensionFilter{
		extensions: item.NormalizeExtensions(extensions),
		exclude:    exclude,
	}
}

func (f *ExtensionFilter) Name() string {
	return TypeExtensionFilter
}

func (f *ExtensionFilter) Run(ctx context.Context, task *pipeline.Task) error {
	match := item.HasExtension(task.Item.ID, f.extensions)
	if match == f.exclude {
		return pipeline.Skipf("extension of %s not selected", filepath.Base(task.Item.ID))
	}
	task.UpdateProgress(100)
	return nil
}
