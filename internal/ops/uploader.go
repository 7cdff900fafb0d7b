package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/manifest"
	"github.com/studio1767/filemon/internal/pipeline"
	"github.com/studio1767/filemon/internal/s3io"
)

// ManifestLabel names the manifests written by the uploader.
const ManifestLabel = "uploads"

// Uploader stores items in S3 under a key derived from their content hash,
// so content already in the bucket is never uploaded twice. Directories
// are uploaded as a tar archive.
//
// Every item that went through the uploader is recorded in a manifest. The
// manifest of the previous session is loaded on preflight and the merged
// result is uploaded on postflight. Directory entries end in a slash.
type Uploader struct {
	client   s3io.Client
	monitor  string
	compress bool
	encrypt  bool
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]manifest.Entry
	hashes  map[string]bool
	dirty   bool
}

func NewUploader(client s3io.Client, monitor string, compress, encrypt bool, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client:   client,
		monitor:  monitor,
		compress: compress,
		encrypt:  encrypt,
		logger:   logger,
		entries:  make(map[string]manifest.Entry),
		hashes:   make(map[string]bool),
	}
}

func (u *Uploader) Name() string {
	return TypeUpload
}

func (u *Uploader) PreflightCheck(ctx context.Context) error {
	if u.encrypt && !u.client.HasRecipients() {
		return fmt.Errorf("encryption requested but %s has no %s", u.client.Bucket(), s3io.RecipientsKey)
	}

	u.mu.Lock()
	u.entries = make(map[string]manifest.Entry)
	u.hashes = make(map[string]bool)
	u.dirty = false
	u.mu.Unlock()

	f, mkey, err := manifest.Download(ctx, u.client, u.monitor, ManifestLabel)
	if err != nil {
		var nomanifest *manifest.ErrNoSuchManifest
		if errors.As(err, &nomanifest) {
			u.logger.Info("no previous manifest", zap.String("bucket", u.client.Bucket()))
			return nil
		}
		return err
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	u.mu.Lock()
	defer u.mu.Unlock()
	err = manifest.Scan(ctx, f, func(e manifest.Entry) error {
		u.entries[e.Path] = e
		u.hashes[e.Hash] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading manifest %s: %w", mkey, err)
	}
	u.logger.Info("loaded previous manifest", zap.String("key", mkey), zap.Int("entries", len(u.entries)))
	return nil
}

func (u *Uploader) Run(ctx context.Context, task *pipeline.Task) error {
	it := task.Item

	hash, ok := task.MetadataFrom(TypeHash, MetaSHA256)
	if !ok || len(hash) < 4 {
		return fmt.Errorf("no content hash from a preceding %s operation", TypeHash)
	}
	key := fmt.Sprintf("data/%s/%s", hash[:4], hash)
	task.SetMetadata(MetaKey, key)
	task.SetMetadata(MetaURL, u.client.URL(key))

	entry, err := manifestEntry(it, hash)
	if err != nil {
		return err
	}

	if u.known(hash) {
		u.record(entry)
		return pipeline.Skip("content already uploaded")
	}
	exists, err := u.client.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", key, err)
	}
	if exists {
		u.record(entry)
		return pipeline.Skip("content already uploaded")
	}

	opts := s3io.UploadOptions{
		Compress: u.compress,
		Encrypt:  u.encrypt,
	}

	var source io.Reader
	if it.Kind == item.Directory {
		reader, writer := io.Pipe()
		defer reader.Close()
		go func() {
			writer.CloseWithError(writeTar(ctx, task, writer, it, taskProgress(task)))
		}()
		source = reader
	} else {
		file, err := os.Open(it.ID)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", it.ID, err)
		}
		defer file.Close()
		source = file

		total := it.Size
		opts.Progress = func(n int64) {
			if total > 0 {
				task.UpdateProgress(100 * float64(n) / float64(total))
			}
		}
	}

	nbytes, err := u.client.Upload(ctx, key, source, opts)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", it.Rel, err)
	}
	task.SetMetadata(MetaBytes, strconv.FormatInt(nbytes, 10))
	task.UpdateProgress(100)

	u.record(entry)
	u.logger.Debug("uploaded",
		zap.String("item", it.ID), zap.String("key", key), zap.String("size", humanize.Bytes(uint64(nbytes))))
	return nil
}

// PostflightCleanup uploads the manifest if anything was recorded this
// session.
func (u *Uploader) PostflightCleanup(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.dirty {
		return nil
	}

	f, err := os.CreateTemp("", "filemon-manifest.*.csv")
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	paths := make([]string, 0, len(u.entries))
	for path := range u.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	mw := manifest.NewWriter(f)
	for _, path := range paths {
		if err := mw.Write(u.entries[path]); err != nil {
			return err
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	mkey, err := manifest.Upload(ctx, u.client, f, u.monitor, ManifestLabel)
	if err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	u.dirty = false
	u.logger.Info("manifest uploaded", zap.String("key", mkey), zap.Int("entries", mw.Count()))
	return nil
}

func (u *Uploader) known(hash string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hashes[hash]
}

func (u *Uploader) record(e manifest.Entry) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries[e.Path] = e
	u.hashes[e.Hash] = true
	u.dirty = true
}

func manifestEntry(it *item.Item, hash string) (manifest.Entry, error) {
	e := manifest.Entry{
		Size:    it.Size,
		ModTime: it.ModTime.Unix(),
		Hash:    hash,
		Path:    it.Rel,
	}
	if it.Kind == item.Directory {
		e.Path += "/"
	}
	info, err := os.Stat(it.ID)
	if err != nil {
		return e, fmt.Errorf("failed to stat %s: %w", it.ID, err)
	}
	e.Mode = info.Mode()
	if it.ModTime.IsZero() {
		e.ModTime = info.ModTime().Unix()
	}
	return e, nil
}
