package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/filemon/internal/config"
)

const sample = `
name: inbox
state_dir: /var/lib/filemon
queue:
  created_promotion_active: false
  saved_promotion_delay_seconds: 10
  max_threads: 4
engine:
  type: directory
  directory:
    path: /data/inbox
    poll_interval: 500ms
    skip_dirs: [.git]
    extensions: [.exr, .mov]
operations:
  - type: extension_filter
    extensions: [.exr]
  - type: hash
  - type: upload
    compress: true
s3:
  bucket: archive
log:
  level: debug
metrics:
  listen: 127.0.0.1:9100
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	require.Equal(t, "inbox", cfg.Name)
	require.False(t, cfg.Queue.CreatedPromotionActive)
	require.Equal(t, 5, cfg.Queue.CreatedPromotionDelaySeconds)
	require.Equal(t, 10, cfg.Queue.SavedPromotionDelaySeconds)
	require.True(t, cfg.Queue.RemovalPromotionActive)
	require.Equal(t, 60, cfg.Queue.RemovalPromotionDelayMinutes)
	require.Equal(t, 500*time.Millisecond, cfg.Engine.Directory.PollInterval)
	require.Equal(t, "files", cfg.Engine.Directory.Mode)
	require.Equal(t, []string{"extension_filter", "hash", "upload"}, cfg.OperationTypes())
	require.Equal(t, "default", cfg.S3.SecretsFile)

	qc := cfg.QueueConfig()
	require.Equal(t, 4, qc.MaxThreads)
	require.Equal(t, 10, qc.SavedPromotionDelaySeconds)
}

func TestParseEnvironmentOverrides(t *testing.T) {
	t.Setenv("FILEMON_LOG_LEVEL", "warn")
	t.Setenv("FILEMON_S3_BUCKET", "other")
	t.Setenv("FILEMON_METRICS_LISTEN", "0.0.0.0:9200")

	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "other", cfg.S3.Bucket)
	require.Equal(t, "0.0.0.0:9200", cfg.Metrics.Listen)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no operations":  "name: x\nengine: {type: urls, urls: {file: a.txt}}\n",
		"unknown engine": "name: x\nengine: {type: ftp}\noperations: [{type: hash}]\n",
		"missing path":   "name: x\nengine: {type: directory}\noperations: [{type: hash}]\n",
		"missing bucket": "name: x\nengine: {type: bucket}\noperations: [{type: fetch}]\n",
		"zero threads":   "name: x\nqueue: {max_threads: 0}\nengine: {type: urls, urls: {file: a}}\noperations: [{type: download}]\n",
		"unknown field":  "name: x\nbogus: 1\nengine: {type: urls, urls: {file: a}}\noperations: [{type: download}]\n",
		"bad log level":  "name: x\nlog: {level: loud}\nengine: {type: urls, urls: {file: a}}\noperations: [{type: download}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filemon.yml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/data/inbox", cfg.Engine.Directory.Path)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestNextKey(t *testing.T) {
	key, err := config.NextKey("inbox", "")
	require.NoError(t, err)
	require.Equal(t, "configs/inbox/inbox-001.yml", key)

	key, err = config.NextKey("inbox", "configs/inbox/inbox-041.yml")
	require.NoError(t, err)
	require.Equal(t, "configs/inbox/inbox-042.yml", key)

	_, err = config.NextKey("inbox", "configs/inbox/other.yml")
	require.Error(t, err)
}
