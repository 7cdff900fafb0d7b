package s3io

import (
	"io"
	"sync/atomic"
)

type ReadCounter interface {
	Read(p []byte) (int, error)
	Close() error

	TotalReads() int
	TotalBytes() int64
}

type WriteCounter interface {
	Write(p []byte) (int, error)
	Close() error

	TotalWrites() int
	TotalBytes() int64
}

// NewReadCounter counts the bytes read through in. progress, if not nil, is
// called with the running total after every read.
func NewReadCounter(in io.Reader, progress Progress) ReadCounter {
	return &readCounter{
		in:       in,
		progress: progress,
	}
}

func NewWriteCounter(out io.Writer, progress Progress) WriteCounter {
	return &writeCounter{
		out:      out,
		progress: progress,
	}
}

// The totals are atomic so they can be read while the uploader's
// goroutines are still reading the body.
type readCounter struct {
	in       io.Reader
	progress Progress
	reads    atomic.Int64
	bytes    atomic.Int64
}

func (rc *readCounter) Read(p []byte) (int, error) {
	size, err := rc.in.Read(p)

	rc.reads.Add(1)
	total := rc.bytes.Add(int64(size))
	if rc.progress != nil && size > 0 {
		rc.progress(total)
	}

	return size, err
}

func (rc *readCounter) Close() error {
	return nil
}

func (rc *readCounter) TotalReads() int {
	return int(rc.reads.Load())
}

func (rc *readCounter) TotalBytes() int64 {
	return rc.bytes.Load()
}

type writeCounter struct {
	out      io.Writer
	progress Progress
	writes   atomic.Int64
	bytes    atomic.Int64
}

func (wc *writeCounter) Write(p []byte) (int, error) {
	size, err := wc.out.Write(p)

	wc.writes.Add(1)
	total := wc.bytes.Add(int64(size))
	if wc.progress != nil && size > 0 {
		wc.progress(total)
	}

	return size, err
}

func (wc *writeCounter) Close() error {
	return nil
}

func (wc *writeCounter) TotalWrites() int {
	return int(wc.writes.Load())
}

func (wc *writeCounter) TotalBytes() int64 {
	return wc.bytes.Load()
}
