package item

import (
	"os"
	"path/filepath"
	"time"
)

// Kind identifies the variant of an item. The set is closed: engines
// produce exactly one kind and operations declare which kinds they accept.
type Kind int

const (
	RegularFile Kind = iota
	Directory
	RemoteObject
	URL
)

func (k Kind) String() string {
	switch k {
	case RegularFile:
		return "file"
	case Directory:
		return "directory"
	case RemoteObject:
		return "object"
	case URL:
		return "url"
	}
	return "unknown"
}

// FileEntry is one regular file below a directory item.
type FileEntry struct {
	RelPath string
	Size    int64
}

// DirInfo carries the payload of a Directory item.
type DirInfo struct {
	Files []FileEntry
}

// TotalSize is the sum of all file sizes in the directory.
func (d *DirInfo) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Size
	}
	return total
}

// ObjectInfo carries the payload of a RemoteObject item.
type ObjectInfo struct {
	Bucket string
	Key    string
	ETag   string
}

// Item is one discovered unit of work.
//
// The identity and kind are fixed at construction. The payload is replaced
// by the queue manager when the item is re-added while no job holds it. The
// lifecycle fields (Status, Created, Saved, Requeue) belong to the queue
// manager once the item has been added and must only be touched from its
// owner goroutine.
type Item struct {
	ID      string
	Rel     string
	Kind    Kind
	Size    int64
	ModTime time.Time

	Dir    *DirInfo
	Object *ObjectInfo
	URL    string

	Status  Status
	Created time.Time
	Saved   time.Time
	Requeue bool

	meta Metadata
}

// NewFile creates a regular file item. root is the monitored directory and
// path is the absolute path of the file.
func NewFile(root, path string, info os.FileInfo) *Item {
	it := &Item{
		ID:   path,
		Rel:  relative(root, path),
		Kind: RegularFile,
	}
	if info != nil {
		it.Size = info.Size()
		it.ModTime = info.ModTime()
	}
	return it
}

// NewDirectory creates a directory item holding the given files, which are
// relative to path.
func NewDirectory(root, path string, files []FileEntry) *Item {
	it := &Item{
		ID:   path,
		Rel:  relative(root, path),
		Kind: Directory,
		Dir:  &DirInfo{Files: files},
	}
	it.Size = it.Dir.TotalSize()
	return it
}

// NewObject creates an item for an object in a bucket. The identity is
// bucket/key.
func NewObject(bucket, key, etag string, size int64, modified time.Time) *Item {
	return &Item{
		ID:      bucket + "/" + key,
		Rel:     key,
		Kind:    RemoteObject,
		Size:    size,
		ModTime: modified,
		Object:  &ObjectInfo{Bucket: bucket, Key: key, ETag: etag},
	}
}

// NewURL creates an item for a remote URL.
func NewURL(link string) *Item {
	return &Item{
		ID:   link,
		Rel:  link,
		Kind: URL,
		URL:  link,
	}
}

// WithStatus sets the initial status the item is added with. Only Created
// and Saved are accepted by the queue manager.
func (it *Item) WithStatus(status Status) *Item {
	it.Status = status
	return it
}

// Refresh replaces the payload with the one of from, a newer observation of
// the same identity. The lifecycle fields are left alone.
func (it *Item) Refresh(from *Item) {
	it.Size = from.Size
	it.ModTime = from.ModTime
	it.Dir = from.Dir
	it.Object = from.Object
	it.URL = from.URL
}

// Metadata returns the per-stage metadata bag of the item.
func (it *Item) Metadata() *Metadata {
	return &it.meta
}

func relative(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
