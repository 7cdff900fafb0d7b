package catalogue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/filemon/internal/catalogue"
)

func TestInsertAndHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "catalogue.db")

	store, err := catalogue.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	mtime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.Insert(ctx, catalogue.Entry{
		Monitor: "plates",
		ItemID:  "/in/a.exr",
		RelPath: "a.exr",
		Kind:    "file",
		Size:    42,
		ModTime: mtime,
		SHA256:  "abcd",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = store.Insert(ctx, catalogue.Entry{
		Monitor:   "plates",
		ItemID:    "/in/a.exr",
		RelPath:   "a.exr",
		Kind:      "file",
		ObjectKey: "data/abcd/abcd",
	})
	require.NoError(t, err)

	entries, err := store.History(ctx, "plates", "/in/a.exr")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "abcd", entries[0].SHA256)
	require.True(t, mtime.Equal(entries[0].ModTime))
	require.Empty(t, entries[0].ObjectKey)
	require.Equal(t, "data/abcd/abcd", entries[1].ObjectKey)
	require.True(t, entries[1].ModTime.IsZero())
	require.False(t, entries[1].RecordedAt.IsZero())

	none, err := store.History(ctx, "other", "/in/a.exr")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalogue.db")

	store, err := catalogue.Open(ctx, path)
	require.NoError(t, err)
	_, err = store.Insert(ctx, catalogue.Entry{Monitor: "m", ItemID: "x", RelPath: "x", Kind: "url"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = catalogue.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.History(ctx, "m", "x")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, path, store.Path())
}
