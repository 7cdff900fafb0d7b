package s3io_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/filemon/internal/s3io"
)

func TestCountersStartAtZero(t *testing.T) {
	wc := s3io.NewWriteCounter(new(bytes.Buffer), nil)
	require.Equal(t, 0, wc.TotalWrites())
	require.Zero(t, wc.TotalBytes())

	rc := s3io.NewReadCounter(new(bytes.Buffer), nil)
	require.Equal(t, 0, rc.TotalReads())
	require.Zero(t, rc.TotalBytes())
}

func TestWriteCounterCountsAndReports(t *testing.T) {
	var reported []int64
	out := new(bytes.Buffer)
	wc := s3io.NewWriteCounter(out, func(n int64) { reported = append(reported, n) })
	defer wc.Close()

	data := make([]byte, 1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		size, err := wc.Write(data)
		require.NoError(t, err)
		require.Equal(t, len(data), size)
	}

	require.Equal(t, 5, wc.TotalWrites())
	require.Equal(t, int64(5*1024), wc.TotalBytes())
	require.Equal(t, []int64{1024, 2048, 3072, 4096, 5120}, reported)
	require.Equal(t, bytes.Repeat(data, 5), out.Bytes())
}

func TestReadCounterCountsAndReports(t *testing.T) {
	src := make([]byte, 5*1024)
	_, err := rand.Read(src)
	require.NoError(t, err)

	var last int64
	rc := s3io.NewReadCounter(bytes.NewReader(src), func(n int64) { last = n })
	defer rc.Close()

	dst := make([]byte, 1024)
	for i := 0; i < 5; i++ {
		size, err := rc.Read(dst)
		require.NoError(t, err)
		require.Equal(t, 1024, size)
		require.Equal(t, src[i*1024:(i+1)*1024], dst)
	}
	require.Equal(t, 5, rc.TotalReads())
	require.Equal(t, int64(len(src)), rc.TotalBytes())
	require.Equal(t, int64(len(src)), last)

	// a read at EOF is counted but not reported
	_, err = rc.Read(dst)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 6, rc.TotalReads())
	require.Equal(t, int64(len(src)), last)
}
