package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v3"

	"github.com/studio1767/filemon/internal/queue"
)

// Config is a monitor definition: where items come from, the operations
// run against them and how the queue promotes them.
type Config struct {
	Name     string `yaml:"name" validate:"required"`
	StateDir string `yaml:"state_dir"`

	Queue      Queue       `yaml:"queue"`
	Engine     Engine      `yaml:"engine"`
	Operations []Operation `yaml:"operations" validate:"required,min=1,dive"`
	S3         S3          `yaml:"s3"`
	Log        Log         `yaml:"log"`
	Metrics    Metrics     `yaml:"metrics"`
	Status     Status      `yaml:"status"`
}

type Queue struct {
	CreatedPromotionActive       bool `yaml:"created_promotion_active"`
	CreatedPromotionDelaySeconds int  `yaml:"created_promotion_delay_seconds" validate:"gte=0"`
	SavedPromotionDelaySeconds   int  `yaml:"saved_promotion_delay_seconds" validate:"gte=0"`
	MaxThreads                   int  `yaml:"max_threads" validate:"gte=1"`
	RemovalPromotionActive       bool `yaml:"removal_promotion_active"`
	RemovalPromotionDelayMinutes int  `yaml:"removal_promotion_delay_minutes" validate:"gte=0"`
}

type Engine struct {
	Type      string    `yaml:"type" validate:"required,oneof=directory bucket urls"`
	Directory Directory `yaml:"directory"`
	Bucket    Bucket    `yaml:"bucket"`
	URLs      URLs      `yaml:"urls"`
}

type Directory struct {
	Path            string        `yaml:"path"`
	Mode            string        `yaml:"mode" validate:"omitempty,oneof=files directories"`
	ProcessExisting bool          `yaml:"process_existing"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	IncludeTopDirs []string `yaml:"include_top_dirs"`
	ExcludeTopDirs []string `yaml:"exclude_top_dirs"`
	SkipDirs       []string `yaml:"skip_dirs"`
	SkipDirItems   []string `yaml:"skip_dir_items"`
	Extensions     []string `yaml:"extensions"`
}

type Bucket struct {
	Endpoint     string        `yaml:"endpoint"`
	Region       string        `yaml:"region"`
	Bucket       string        `yaml:"bucket"`
	Prefix       string        `yaml:"prefix"`
	AccessKey    string        `yaml:"access_key"`
	SecretKey    string        `yaml:"secret_key"`
	Insecure     bool          `yaml:"insecure"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type URLs struct {
	File string `yaml:"file"`
}

// Operation configures one pipeline stage. Which fields apply depends on
// the type.
type Operation struct {
	Type        string        `yaml:"type" validate:"required"`
	Extensions  []string      `yaml:"extensions"`
	Exclude     bool          `yaml:"exclude"`
	Destination string        `yaml:"destination"`
	Compress    bool          `yaml:"compress"`
	Encrypt     bool          `yaml:"encrypt"`
	Database    string        `yaml:"database"`
	Timeout     time.Duration `yaml:"timeout"`
}

// S3 is the bucket used by the upload operation and the remote config
// commands.
type S3 struct {
	Profile        string `yaml:"profile" envconfig:"PROFILE"`
	Region         string `yaml:"region" envconfig:"REGION"`
	Endpoint       string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Bucket         string `yaml:"bucket" envconfig:"BUCKET"`
	IdentitiesFile string `yaml:"identities_file" envconfig:"IDENTITIES_FILE"`
	SecretsFile    string `yaml:"secrets_file" envconfig:"SECRETS_FILE"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto console json"`
}

type Metrics struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

type Status struct {
	Interval time.Duration `yaml:"interval"`
}

// env holds the deployment overrides read from FILEMON_* variables. The
// S3 section maps to FILEMON_S3_*.
type env struct {
	LogLevel        string `envconfig:"LOG_LEVEL"`
	StateDir        string `envconfig:"STATE_DIR"`
	MetricsListen   string `envconfig:"METRICS_LISTEN"`
	BucketAccessKey string `envconfig:"BUCKET_ACCESS_KEY"`
	BucketSecretKey string `envconfig:"BUCKET_SECRET_KEY"`
	S3              S3
}

func Default() *Config {
	return &Config{
		StateDir: os.TempDir(),
		Queue: Queue{
			CreatedPromotionActive:       true,
			CreatedPromotionDelaySeconds: 5,
			SavedPromotionDelaySeconds:   5,
			MaxThreads:                   1,
			RemovalPromotionActive:       true,
			RemovalPromotionDelayMinutes: 60,
		},
		Engine: Engine{
			Directory: Directory{
				Mode:         "files",
				PollInterval: 2 * time.Second,
			},
			Bucket: Bucket{
				PollInterval: 10 * time.Second,
			},
		},
		S3: S3{
			IdentitiesFile: "default",
			SecretsFile:    "default",
		},
		Log: Log{
			Level:  "info",
			Format: "auto",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a yaml config over the defaults, applies the environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("FILEMON", &e); err != nil {
		return err
	}

	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.StateDir != "" {
		c.StateDir = e.StateDir
	}
	if e.MetricsListen != "" {
		c.Metrics.Listen = e.MetricsListen
	}
	if e.BucketAccessKey != "" {
		c.Engine.Bucket.AccessKey = e.BucketAccessKey
	}
	if e.BucketSecretKey != "" {
		c.Engine.Bucket.SecretKey = e.BucketSecretKey
	}
	if e.S3.Profile != "" {
		c.S3.Profile = e.S3.Profile
	}
	if e.S3.Region != "" {
		c.S3.Region = e.S3.Region
	}
	if e.S3.Endpoint != "" {
		c.S3.Endpoint = e.S3.Endpoint
	}
	if e.S3.Bucket != "" {
		c.S3.Bucket = e.S3.Bucket
	}
	if e.S3.IdentitiesFile != "" {
		c.S3.IdentitiesFile = e.S3.IdentitiesFile
	}
	if e.S3.SecretsFile != "" {
		c.S3.SecretsFile = e.S3.SecretsFile
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and the cross field rules of the engine
// sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Engine.Type {
	case "directory":
		if c.Engine.Directory.Path == "" {
			return fmt.Errorf("engine.directory.path is required for the directory engine")
		}
	case "bucket":
		if c.Engine.Bucket.Endpoint == "" || c.Engine.Bucket.Bucket == "" {
			return fmt.Errorf("engine.bucket.endpoint and engine.bucket.bucket are required for the bucket engine")
		}
	case "urls":
		if c.Engine.URLs.File == "" {
			return fmt.Errorf("engine.urls.file is required for the urls engine")
		}
	}
	return nil
}

// QueueConfig converts the queue section for the queue manager.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		CreatedPromotionActive:       c.Queue.CreatedPromotionActive,
		CreatedPromotionDelaySeconds: c.Queue.CreatedPromotionDelaySeconds,
		SavedPromotionDelaySeconds:   c.Queue.SavedPromotionDelaySeconds,
		MaxThreads:                   c.Queue.MaxThreads,
		RemovalPromotionActive:       c.Queue.RemovalPromotionActive,
		RemovalPromotionDelayMinutes: c.Queue.RemovalPromotionDelayMinutes,
	}
}

// OperationTypes lists the configured operation types in pipeline order.
func (c *Config) OperationTypes() []string {
	types := make([]string, len(c.Operations))
	for i, op := range c.Operations {
		types[i] = op.Type
	}
	return types
}
