package main

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/engine"
	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/queue"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filemon.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStageSummary(t *testing.T) {
	require.Equal(t, "+>x-.", stageSummary([]queue.StageRow{
		{Status: item.Success},
		{Status: item.Running},
		{Status: item.Failure},
		{Status: item.Skipped},
		{Status: item.Created},
	}))
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	out := renderStatus([]queue.Row{
		{Rel: "shot/a.exr", Status: item.Running, Progress: 42, Saved: now.Add(-time.Minute),
			Stages: []queue.StageRow{{Status: item.Success}, {Status: item.Running}}},
		{Rel: "b.exr", Status: item.Success, Progress: 100, Requeue: true},
	}, 1, now)

	require.Contains(t, out, "shot/a.exr")
	require.Contains(t, out, "42%")
	require.Contains(t, out, "1 minute ago")
	require.Contains(t, out, "+>")
	require.Contains(t, out, "success*")
	require.Contains(t, out, "2 items")
	require.Contains(t, out, "1 running")
	require.NotContains(t, out, "ITEMS")
}

func TestBuildMonitor(t *testing.T) {
	dest := t.TempDir()
	cfg, err := config.Parse([]byte(`
name: plates
state_dir: ` + t.TempDir() + `
engine:
  type: directory
  directory:
    path: ` + t.TempDir() + `
    mode: directories
operations:
  - type: hash
  - type: copy
    destination: ` + dest + `
  - type: catalogue
`))
	require.NoError(t, err)

	mon, err := buildMonitor(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, engine.NameDirectories, mon.engine.Name())
	require.Len(t, mon.stages, 3)
}

func TestBuildMonitorRejectsUnsupported(t *testing.T) {
	cfg, err := config.Parse([]byte(`
name: plates
engine:
  type: urls
  urls:
    file: urls.txt
operations:
  - type: hash
`))
	require.NoError(t, err)

	_, err = buildMonitor(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "hash")
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, `
name: plates
state_dir: `+t.TempDir()+`
log:
  level: error
engine:
  type: directory
  directory:
    path: `+t.TempDir()+`
operations:
  - type: extension_filter
    extensions: [exr]
  - type: hash
  - type: catalogue
`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "-c", path})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "plates: engine directory, 3 operations ok\n", out.String())
}

func TestWatchStopsOnCancel(t *testing.T) {
	root, dest, state := t.TempDir(), t.TempDir(), t.TempDir()
	cfg, err := config.Parse([]byte(`
name: plates
state_dir: ` + state + `
queue:
  created_promotion_delay_seconds: 0
  saved_promotion_delay_seconds: 0
engine:
  type: directory
  directory:
    path: ` + root + `
    process_existing: true
    poll_interval: 50ms
operations:
  - type: copy
    destination: ` + dest + `
`))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.exr"), []byte("a"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, cfg, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dest, "a.exr"))
		return err == nil
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// the lock is released again
	locked, err := flock.New(filepath.Join(state, "filemon.lock")).TryLock()
	require.NoError(t, err)
	require.True(t, locked)
}

func TestExtractTar(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range map[string]string{"run1/a": "aa", "run1/sub/b": "b"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg, ModTime: time.Unix(1000, 0),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	parent := t.TempDir()
	require.NoError(t, extractTar(&buf, parent))

	data, err := os.ReadFile(filepath.Join(parent, "run1", "sub", "b"))
	require.NoError(t, err)
	require.Equal(t, "b", string(data))
}

func TestExtractTarRejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	err = extractTar(strings.NewReader(buf.String()), t.TempDir())
	require.ErrorContains(t, err, "escapes")
}
