package ops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
	"github.com/studio1767/filemon/internal/s3io"
)

// Operation type names as used in the config file.
const (
	TypeExtensionFilter = "extension_filter"
	TypeHash            = "hash"
	TypeCopy            = "copy"
	TypeCompress        = "compress"
	TypeUpload          = "upload"
	TypeFetch           = "fetch"
	TypeDownload        = "download"
	TypeCatalogue       = "catalogue"
)

// metadata keys shared between operations
const (
	MetaSHA256 = "sha256"
	MetaPath   = "path"
	MetaBytes  = "bytes"
	MetaKey    = "key"
	MetaURL    = "url"
)

var (
	localKinds = []item.Kind{item.RegularFile, item.Directory}
	allKinds   = []item.Kind{item.RegularFile, item.Directory, item.RemoteObject, item.URL}
)

// Register adds the descriptor of every operation to reg.
func Register(reg *pipeline.Registry) {
	reg.RegisterStage(pipeline.Descriptor{Name: TypeExtensionFilter, Accepts: []item.Kind{item.RegularFile}})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeHash, Accepts: localKinds})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeCopy, Accepts: localKinds})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeCompress, Accepts: localKinds})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeUpload, Accepts: localKinds, Prerequisites: []string{TypeHash}})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeFetch, Accepts: []item.Kind{item.RemoteObject}})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeDownload, Accepts: []item.Kind{item.URL}})
	reg.RegisterStage(pipeline.Descriptor{Name: TypeCatalogue, Accepts: allKinds})
}

// Env carries the collaborators operations are built with. Client is only
// needed by upload, Objects only by fetch.
type Env struct {
	Monitor  string
	StateDir string
	Client   s3io.Client
	Objects  ObjectSource
	HTTP     *http.Client
	Logger   *zap.Logger
}

// Build validates the configured pipeline against the engine and creates
// its stages in order.
func Build(reg *pipeline.Registry, engine string, operations []config.Operation, env Env) ([]pipeline.Stage, error) {
	types := make([]string, len(operations))
	for i, op := range operations {
		types[i] = op.Type
	}
	if err := reg.Preflight(engine, types); err != nil {
		return nil, err
	}

	stages := make([]pipeline.Stage, 0, len(operations))
	for idx, op := range operations {
		stage, err := New(op, env)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", idx, op.Type, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// New creates the stage for one configured operation.
func New(op config.Operation, env Env) (pipeline.Stage, error) {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ops").With(zap.String("operation", op.Type))

	switch op.Type {
	case TypeExtensionFilter:
		return NewExtensionFilter(op.Extensions, op.Exclude), nil
	case TypeHash:
		return NewHasher(), nil
	case TypeCopy:
		if op.Destination == "" {
			return nil, fmt.Errorf("destination is required")
		}
		return NewCopier(op.Destination), nil
	case TypeCompress:
		if op.Destination == "" {
			return nil, fmt.Errorf("destination is required")
		}
		return NewCompressor(op.Destination), nil
	case TypeUpload:
		if env.Client == nil {
			return nil, fmt.Errorf("an s3 bucket is required")
		}
		return NewUploader(env.Client, env.Monitor, op.Compress, op.Encrypt, logger), nil
	case TypeFetch:
		if env.Objects == nil {
			return nil, fmt.Errorf("bucket access is required")
		}
		if op.Destination == "" {
			return nil, fmt.Errorf("destination is required")
		}
		return NewFetcher(env.Objects, op.Destination), nil
	case TypeDownload:
		if op.Destination == "" {
			return nil, fmt.Errorf("destination is required")
		}
		client := env.HTTP
		if client == nil {
			client = &http.Client{Timeout: op.Timeout}
		}
		return NewDownloader(client, op.Destination), nil
	case TypeCatalogue:
		database := op.Database
		if database == "" {
			database = filepath.Join(env.StateDir, env.Monitor+".db")
		}
		return NewCatalogue(database, env.Monitor, logger), nil
	}
	return nil, &pipeline.ErrUnknownOperation{Name: op.Type}
}

// sourceFiles lists the local files of an item with their sizes. A
// directory lists its files, a regular file lists itself.
func sourceFiles(it *item.Item) ([]string, []item.FileEntry) {
	if it.Kind == item.Directory && it.Dir != nil {
		paths := make([]string, len(it.Dir.Files))
		for i, f := range it.Dir.Files {
			paths[i] = filepath.Join(it.ID, f.RelPath)
		}
		return paths, it.Dir.Files
	}
	return []string{it.ID}, []item.FileEntry{{RelPath: filepath.Base(it.ID), Size: it.Size}}
}

func taskProgress(task *pipeline.Task) item.Progress {
	return item.ProgressFunc(task.UpdateProgress)
}

// copyProgress copies src to dst and reports the share of total copied so
// far. It stops early when ctx is done or the job is told to exit.
func copyProgress(ctx context.Context, task *pipeline.Task, dst io.Writer, src io.Reader, total int64, progress item.Progress) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if task.ShouldExit() {
			return written, context.Canceled
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
			if total > 0 {
				progress.UpdateProgress(100 * float64(written) / float64(total))
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// ErrOutsideDestination is returned for targets that resolve outside the
// destination directory of a stage.
type ErrOutsideDestination struct {
	Destination string
	Name        string
}

func (e *ErrOutsideDestination) Error() string {
	return fmt.Sprintf("%s resolves outside of %s", e.Name, e.Destination)
}

// within joins rel onto root and rejects results that leave root.
func within(root, rel string) (string, error) {
	root = filepath.Clean(root)
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", &ErrOutsideDestination{Destination: root, Name: rel}
	}
	return target, nil
}

// partialFile is written next to its final name and renamed into place on
// commit, so readers never see half written output.
type partialFile struct {
	*os.File
	final string
}

func createPartial(path string) (*partialFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path + ".partial")
	if err != nil {
		return nil, err
	}
	return &partialFile{File: f, final: path}, nil
}

func (p *partialFile) commit() error {
	if err := p.File.Close(); err != nil {
		os.Remove(p.Name())
		return err
	}
	return os.Rename(p.Name(), p.final)
}

func (p *partialFile) abort() {
	p.File.Close()
	os.Remove(p.Name())
}
