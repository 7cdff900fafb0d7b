package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

// Sink is the ingress side of the queue manager. Adding an identity the
// sink already knows counts as a save and carries the newer payload; Saved
// re-saves by identity alone.
type Sink interface {
	Add(items ...*item.Item) error
	Saved(ids ...string) error
}

// Engine discovers items and reports them to a sink until ctx is done.
type Engine interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

const (
	NameFiles       = "directory"
	NameDirectories = "directories"
	NameBucket      = "bucket"
	NameURLs        = "urls"
)

// Register adds the descriptors of every engine to reg.
func Register(reg *pipeline.Registry) {
	reg.RegisterEngine(pipeline.EngineDescriptor{Name: NameFiles, Produces: item.RegularFile})
	reg.RegisterEngine(pipeline.EngineDescriptor{Name: NameDirectories, Produces: item.Directory})
	reg.RegisterEngine(pipeline.EngineDescriptor{Name: NameBucket, Produces: item.RemoteObject})
	reg.RegisterEngine(pipeline.EngineDescriptor{Name: NameURLs, Produces: item.URL})
}

// New builds the engine selected by the engine section of a config.
func New(cfg config.Engine, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	switch cfg.Type {
	case "directory":
		d := cfg.Directory
		return NewDirectory(DirectoryOptions{
			Root:            d.Path,
			Directories:     d.Mode == "directories",
			ProcessExisting: d.ProcessExisting,
			PollInterval:    d.PollInterval,
			IncludeTopDirs:  d.IncludeTopDirs,
			ExcludeTopDirs:  d.ExcludeTopDirs,
			SkipDirs:        d.SkipDirs,
			SkipDirItems:    d.SkipDirItems,
			Extensions:      d.Extensions,
		}, logger), nil

	case "bucket":
		b := cfg.Bucket
		return NewBucket(BucketOptions{
			Endpoint:     b.Endpoint,
			Region:       b.Region,
			Bucket:       b.Bucket,
			Prefix:       b.Prefix,
			AccessKey:    b.AccessKey,
			SecretKey:    b.SecretKey,
			Secure:       !b.Insecure,
			PollInterval: b.PollInterval,
		}, logger)

	case "urls":
		return NewURLFile(cfg.URLs.File, logger), nil
	}

	return nil, &pipeline.ErrUnknownEngine{Name: cfg.Type}
}

// describe is used in log fields.
func describe(items []*item.Item) string {
	if len(items) == 1 {
		return items[0].ID
	}
	return fmt.Sprintf("%d items", len(items))
}
