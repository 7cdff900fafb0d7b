package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/logging"
	"github.com/studio1767/filemon/internal/s3io"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "filemon",
	Short:        "Watch a source for new items and run a pipeline of operations on them",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(restoreCmd)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: auto, console or json")
}

// loadConfig reads the monitor config and builds the logger it asks for.
// Command line flags win over the file.
func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.With(zap.String("monitor", cfg.Name)), nil
}

// bucketFlags locate the bucket and key material for commands that talk to
// S3 directly.
type bucketFlags struct {
	profile    string
	region     string
	endpoint   string
	secrets    string
	identities string
}

func (f *bucketFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "default", "aws profile for credentials and configuration")
	cmd.Flags().StringVar(&f.region, "region", "", "aws region")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "custom S3 endpoint URL")
	cmd.Flags().StringVarP(&f.secrets, "secrets", "s", "default", "yaml file containing secret passphrases")
	cmd.Flags().StringVarP(&f.identities, "identities", "i", "default", "file containing identities to decrypt data")
}

func (f *bucketFlags) client(ctx context.Context, bucket string) (s3io.Client, error) {
	return s3io.NewClient(ctx, s3io.Options{
		Profile:        f.profile,
		Region:         f.region,
		Endpoint:       f.endpoint,
		Bucket:         bucket,
		IdentitiesFile: f.identities,
		SecretsFile:    f.secrets,
	})
}
