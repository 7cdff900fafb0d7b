package queue

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Config holds the promotion delays and the admission bound of the queue
// manager.
type Config struct {
	CreatedPromotionActive       bool
	CreatedPromotionDelaySeconds int
	SavedPromotionDelaySeconds   int
	MaxThreads                   int
	RemovalPromotionActive       bool
	RemovalPromotionDelayMinutes int
}

func DefaultConfig() Config {
	return Config{
		CreatedPromotionActive:       true,
		CreatedPromotionDelaySeconds: 5,
		SavedPromotionDelaySeconds:   5,
		MaxThreads:                   1,
		RemovalPromotionActive:       true,
		RemovalPromotionDelayMinutes: 60,
	}
}

func (c Config) createdDelay() time.Duration {
	return time.Duration(c.CreatedPromotionDelaySeconds) * time.Second
}

func (c Config) savedDelay() time.Duration {
	return time.Duration(c.SavedPromotionDelaySeconds) * time.Second
}

func (c Config) removalDelay() time.Duration {
	return time.Duration(c.RemovalPromotionDelayMinutes) * time.Minute
}

// normalize bounds MaxThreads to [1, NumCPU].
func (c Config) normalize(logger *zap.Logger) Config {
	cpus := runtime.NumCPU()
	switch {
	case c.MaxThreads < 1:
		logger.Warn("max threads below 1, using 1", zap.Int("configured", c.MaxThreads))
		c.MaxThreads = 1
	case c.MaxThreads > cpus:
		logger.Warn("max threads exceeds cpu count, clamping",
			zap.Int("configured", c.MaxThreads), zap.Int("cpus", cpus))
		c.MaxThreads = cpus
	}
	return c
}
