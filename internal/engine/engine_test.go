package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
	"github.com/studio1767/filemon/internal/queue"
)

type recordingSink struct {
	mu    sync.Mutex
	added []*item.Item
	saved []string
}

func (s *recordingSink) Add(items ...*item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, items...)
	return nil
}

func (s *recordingSink) Saved(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, ids...)
	return nil
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = nil
	s.saved = nil
}

func (s *recordingSink) addedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, it := range s.added {
		ids = append(ids, it.ID)
	}
	return ids
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirectoryIgnoresExistingByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.exr"), "old")

	d := NewDirectory(DirectoryOptions{Root: root}, nil)
	sink := &recordingSink{}
	ctx := context.Background()

	require.NoError(t, d.poll(ctx, sink))
	require.Empty(t, sink.added)

	writeFile(t, filepath.Join(root, "shot", "new.exr"), "new")
	require.NoError(t, d.poll(ctx, sink))

	require.Len(t, sink.added, 1)
	it := sink.added[0]
	require.Equal(t, filepath.Join(root, "shot", "new.exr"), it.ID)
	require.Equal(t, filepath.Join("shot", "new.exr"), it.Rel)
	require.Equal(t, item.Created, it.Status)
	require.Equal(t, int64(3), it.Size)
}

func TestDirectoryProcessExisting(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.exr"), "b")
	writeFile(t, filepath.Join(root, "a.exr"), "a")

	d := NewDirectory(DirectoryOptions{Root: root, ProcessExisting: true}, nil)
	sink := &recordingSink{}

	require.NoError(t, d.poll(context.Background(), sink))
	require.Equal(t, []string{
		filepath.Join(root, "a.exr"),
		filepath.Join(root, "b.exr"),
	}, sink.addedIDs())
	for _, it := range sink.added {
		require.Equal(t, item.Saved, it.Status)
	}
}

func TestDirectoryReportsChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.exr")
	writeFile(t, path, "a")

	d := NewDirectory(DirectoryOptions{Root: root}, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, d.poll(ctx, sink))

	// unchanged
	require.NoError(t, d.poll(ctx, sink))
	require.Empty(t, sink.added)

	writeFile(t, path, "grown")
	require.NoError(t, d.poll(ctx, sink))
	require.Equal(t, []string{path}, sink.addedIDs())
	require.Equal(t, int64(5), sink.added[0].Size)
	require.Equal(t, item.Saved, sink.added[0].Status)

	// removed and recreated counts as new
	sink.reset()
	require.NoError(t, os.Remove(path))
	require.NoError(t, d.poll(ctx, sink))
	writeFile(t, path, "again")
	require.NoError(t, d.poll(ctx, sink))
	require.Equal(t, []string{path}, sink.addedIDs())
	require.Equal(t, item.Created, sink.added[0].Status)
}

func TestDirectoryFilters(t *testing.T) {
	root := t.TempDir()
	d := NewDirectory(DirectoryOptions{
		Root:           root,
		ExcludeTopDirs: []string{"tmp"},
		SkipDirs:       []string{".git"},
		SkipDirItems:   []string{".nobackup"},
		Extensions:     []string{"exr"},
	}, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, d.poll(ctx, sink))

	writeFile(t, filepath.Join(root, "keep", "a.exr"), "a")
	writeFile(t, filepath.Join(root, "keep", "a.txt"), "a")
	writeFile(t, filepath.Join(root, "tmp", "b.exr"), "b")
	writeFile(t, filepath.Join(root, "keep", ".git", "c.exr"), "c")
	writeFile(t, filepath.Join(root, "private", "d.exr"), "d")
	writeFile(t, filepath.Join(root, "private", ".nobackup"), "")

	require.NoError(t, d.poll(ctx, sink))
	require.Equal(t, []string{filepath.Join(root, "keep", "a.exr")}, sink.addedIDs())
}

func TestDirectoryIncludeTopDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "in", "a.exr"), "a")
	writeFile(t, filepath.Join(root, "out", "b.exr"), "b")
	writeFile(t, filepath.Join(root, "top.exr"), "c")

	d := NewDirectory(DirectoryOptions{
		Root:            root,
		ProcessExisting: true,
		IncludeTopDirs:  []string{"in"},
	}, nil)
	sink := &recordingSink{}
	require.NoError(t, d.poll(context.Background(), sink))

	require.Equal(t, []string{
		filepath.Join(root, "in", "a.exr"),
		filepath.Join(root, "top.exr"),
	}, sink.addedIDs())
}

func TestDirectoryMode(t *testing.T) {
	root := t.TempDir()
	d := NewDirectory(DirectoryOptions{Root: root, Directories: true}, nil)
	require.Equal(t, NameDirectories, d.Name())

	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, d.poll(ctx, sink))

	writeFile(t, filepath.Join(root, "run1", "a.bin"), "aaaa")
	writeFile(t, filepath.Join(root, "run1", "sub", "b.bin"), "bb")
	writeFile(t, filepath.Join(root, "loose.bin"), "x")
	require.NoError(t, d.poll(ctx, sink))

	require.Len(t, sink.added, 1)
	it := sink.added[0]
	require.Equal(t, item.Directory, it.Kind)
	require.Equal(t, "run1", it.Rel)
	require.Equal(t, int64(6), it.Size)
	require.ElementsMatch(t, []item.FileEntry{
		{RelPath: "a.bin", Size: 4},
		{RelPath: filepath.Join("sub", "b.bin"), Size: 2},
	}, it.Dir.Files)

	sink.reset()
	writeFile(t, filepath.Join(root, "run1", "c.bin"), "c")
	require.NoError(t, d.poll(ctx, sink))
	require.Equal(t, []string{filepath.Join(root, "run1")}, sink.addedIDs())
	require.Len(t, sink.added[0].Dir.Files, 3)
	require.Equal(t, int64(7), sink.added[0].Size)
}

// listingStage records the file list of every directory it runs on.
type listingStage struct {
	mu   sync.Mutex
	runs [][]string
}

func (l *listingStage) Name() string { return "listing" }

func (l *listingStage) Run(_ context.Context, task *pipeline.Task) error {
	var names []string
	for _, f := range task.Item.Dir.Files {
		names = append(names, f.RelPath)
	}
	sort.Strings(names)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, names)
	return nil
}

func (l *listingStage) seen() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.runs...)
}

func TestDirectoryChangeReprocessedWithNewContents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "run1", "a.bin"), "aaaa")

	listing := &listingStage{}
	m := queue.New(queue.Config{MaxThreads: 1}, []pipeline.Stage{listing},
		queue.WithTickInterval(10*time.Millisecond), queue.WithProgressInterval(0))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { m.Stop(ctx) })

	d := NewDirectory(DirectoryOptions{Root: root, Directories: true, ProcessExisting: true}, nil)
	require.NoError(t, d.poll(ctx, m))
	require.Eventually(t, func() bool {
		return len(listing.seen()) == 1 && m.Running() == 0
	}, 5*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(root, "run1", "b.bin"), "bb")
	require.NoError(t, d.poll(ctx, m))
	require.Eventually(t, func() bool {
		return len(listing.seen()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, [][]string{{"a.bin"}, {"a.bin", "b.bin"}}, listing.seen())
}

func TestDirectoryRunStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	d := NewDirectory(DirectoryOptions{Root: root, ProcessExisting: true, PollInterval: 50 * time.Millisecond}, nil)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, sink) }()

	writeFile(t, filepath.Join(root, "a.exr"), "a")
	require.Eventually(t, func() bool {
		return len(sink.addedIDs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

type fakeLister struct {
	objects []minio.ObjectInfo
	err     error
}

func (f *fakeLister) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(f.objects)+1)
	for _, obj := range f.objects {
		ch <- obj
	}
	if f.err != nil {
		ch <- minio.ObjectInfo{Err: f.err}
	}
	close(ch)
	return ch
}

func TestBucketPoll(t *testing.T) {
	lister := &fakeLister{objects: []minio.ObjectInfo{
		{Key: "raw/b.tif", ETag: "b1", Size: 2},
		{Key: "raw/a.tif", ETag: "a1", Size: 1},
		{Key: "raw/", ETag: ""},
	}}
	b := newBucket(BucketOptions{Bucket: "media", Prefix: "raw/"}, lister, nil)
	sink := &recordingSink{}
	ctx := context.Background()

	require.NoError(t, b.poll(ctx, sink))
	require.Equal(t, []string{"media/raw/a.tif", "media/raw/b.tif"}, sink.addedIDs())
	for _, it := range sink.added {
		require.Equal(t, item.Saved, it.Status)
		require.Equal(t, item.RemoteObject, it.Kind)
	}

	sink.reset()
	lister.objects[0].ETag = "b2"
	require.NoError(t, b.poll(ctx, sink))
	require.Equal(t, []string{"media/raw/b.tif"}, sink.addedIDs())
	require.Equal(t, "b2", sink.added[0].Object.ETag)
}

func TestBucketPollErrorKeepsState(t *testing.T) {
	lister := &fakeLister{objects: []minio.ObjectInfo{{Key: "a", ETag: "1"}}}
	b := newBucket(BucketOptions{Bucket: "media"}, lister, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, b.poll(ctx, sink))

	lister.err = errors.New("connection reset")
	require.Error(t, b.poll(ctx, sink))

	lister.err = nil
	sink.reset()
	require.NoError(t, b.poll(ctx, sink))
	require.Empty(t, sink.added)
	require.Empty(t, sink.saved)
}

func TestURLFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "urls.txt")
	writeFile(t, file, "# plates\nhttps://example.com/a.mov\n\nnot a url\nhttps://example.com/b.mov\nhttps://example.com/a.mov\n")

	u := NewURLFile(file, nil)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, u.Run(ctx, sink))

	require.Equal(t, []string{"https://example.com/a.mov", "https://example.com/b.mov"}, sink.addedIDs())
	require.Equal(t, item.URL, sink.added[0].Kind)
	require.Equal(t, item.Saved, sink.added[0].Status)
}

func TestURLFileMissing(t *testing.T) {
	u := NewURLFile(filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.Error(t, u.Run(context.Background(), &recordingSink{}))
}

func TestNewFromConfig(t *testing.T) {
	e, err := New(config.Engine{
		Type:      "directory",
		Directory: config.Directory{Path: t.TempDir(), Mode: "directories"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, NameDirectories, e.Name())

	e, err = New(config.Engine{Type: "urls", URLs: config.URLs{File: "urls.txt"}}, nil)
	require.NoError(t, err)
	require.Equal(t, NameURLs, e.Name())

	e, err = New(config.Engine{Type: "bucket", Bucket: config.Bucket{Endpoint: "localhost:9000", Bucket: "media"}}, nil)
	require.NoError(t, err)
	require.Equal(t, NameBucket, e.Name())

	_, err = New(config.Engine{Type: "ftp"}, nil)
	var unknown *pipeline.ErrUnknownEngine
	require.ErrorAs(t, err, &unknown)
}

func TestRegisterEngines(t *testing.T) {
	reg := pipeline.NewRegistry()
	Register(reg)

	d, ok := reg.Engine(NameBucket)
	require.True(t, ok)
	require.Equal(t, item.RemoteObject, d.Produces)
}
