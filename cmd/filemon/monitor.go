package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/engine"
	"github.com/studio1767/filemon/internal/ops"
	"github.com/studio1767/filemon/internal/pipeline"
	"github.com/studio1767/filemon/internal/s3io"
)

// monitor is a configured engine with the pipeline it feeds.
type monitor struct {
	engine engine.Engine
	stages []pipeline.Stage
}

func newRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	engine.Register(reg)
	ops.Register(reg)
	return reg
}

func buildMonitor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*monitor, error) {
	eng, err := engine.New(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}

	env := ops.Env{
		Monitor:  cfg.Name,
		StateDir: cfg.StateDir,
		Logger:   logger,
	}
	if uses(cfg, ops.TypeUpload) {
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("the upload operation needs s3.bucket")
		}
		client, err := s3io.NewClient(ctx, s3io.Options{
			Profile:        cfg.S3.Profile,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Bucket:         cfg.S3.Bucket,
			IdentitiesFile: cfg.S3.IdentitiesFile,
			SecretsFile:    cfg.S3.SecretsFile,
		})
		if err != nil {
			return nil, err
		}
		env.Client = client
	}
	if uses(cfg, ops.TypeFetch) {
		objects, err := ops.NewObjectSource(cfg.Engine.Bucket)
		if err != nil {
			return nil, err
		}
		env.Objects = objects
	}

	stages, err := ops.Build(newRegistry(), eng.Name(), cfg.Operations, env)
	if err != nil {
		return nil, err
	}
	return &monitor{engine: eng, stages: stages}, nil
}

func uses(cfg *config.Config, opType string) bool {
	for _, op := range cfg.Operations {
		if op.Type == opType {
			return true
		}
	}
	return false
}
