package ops

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/catalogue"
	"github.com/studio1767/filemon/internal/pipeline"
)

// Catalogue records every item that reaches it in a sqlite database,
// together with what earlier operations reported about it.
type Catalogue struct {
	database string
	monitor  string
	logger   *zap.Logger

	mu    sync.Mutex
	store *catalogue.Store
}

func NewCatalogue(database, monitor string, logger *zap.Logger) *Catalogue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalogue{
		database: database,
		monitor:  monitor,
		logger:   logger,
	}
}

func (c *Catalogue) Name() string {
	return TypeCatalogue
}

func (c *Catalogue) PreflightCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return nil
	}
	store, err := catalogue.Open(ctx, c.database)
	if err != nil {
		return err
	}
	c.store = store
	c.logger.Info("catalogue opened", zap.String("database", c.database))
	return nil
}

func (c *Catalogue) PostflightCleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.store.Close()
	c.store = nil
	return err
}

func (c *Catalogue) Run(ctx context.Context, task *pipeline.Task) error {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store == nil {
		return fmt.Errorf("catalogue %s is not open", c.database)
	}

	it := task.Item
	entry := catalogue.Entry{
		Monitor: c.monitor,
		ItemID:  it.ID,
		RelPath: it.Rel,
		Kind:    it.Kind.String(),
		Size:    it.Size,
		ModTime: it.ModTime,
	}
	entry.SHA256, _ = latest(task, MetaSHA256)
	entry.LocalPath, _ = latest(task, MetaPath)
	entry.ObjectKey, _ = task.MetadataFrom(TypeUpload, MetaKey)
	entry.ObjectURL, _ = task.MetadataFrom(TypeUpload, MetaURL)

	if _, err := store.Insert(ctx, entry); err != nil {
		return err
	}
	task.UpdateProgress(100)
	return nil
}

// latest finds the value of key written by the closest earlier stage.
func latest(task *pipeline.Task, key string) (string, bool) {
	for idx := task.Index - 1; idx >= 0; idx-- {
		if v, ok := task.Metadata(idx, key); ok {
			return v, true
		}
	}
	return "", false
}
