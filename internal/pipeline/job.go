package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/studio1767/filemon/internal/item"
)

// ParentIndex addresses the overall status of an item rather than one of
// its stages.
const ParentIndex = -1

const (
	MessageNotStarted      = "operation not started due to previous error"
	MessagePrecedingSkip   = "a preceding stage was skipped"
	MessageAborted         = "monitoring aborted"
	defaultProgressBackoff = 200 * time.Millisecond
)

// Reporter receives status and progress changes from a running job. The
// queue manager's implementation posts them onto its owner goroutine, so
// both methods are safe to call from any goroutine.
type Reporter interface {
	UpdateStatus(stage int, status item.Status, message string)
	UpdateProgress(stage int, percent float64)
}

// Result is the overall outcome of a job.
type Result struct {
	Status  item.Status
	Message string
}

// Job runs an ordered stage list against one item.
type Job struct {
	ID string

	item     *item.Item
	stages   []Stage
	reporter Reporter
	done     func()
	logger   *zap.Logger

	// progress limiters, indexed by stage
	every    rate.Limit
	limiters []*rate.Limiter

	exit atomic.Bool
}

type JobOption func(*Job)

func WithJobLogger(logger *zap.Logger) JobOption {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithDone registers the callback invoked after the final status has been
// reported, unless the job was told to exit.
func WithDone(done func()) JobOption {
	return func(j *Job) {
		j.done = done
	}
}

// WithProgressInterval sets the minimum spacing of forwarded progress
// updates of each stage. Zero forwards every update.
func WithProgressInterval(interval time.Duration) JobOption {
	return func(j *Job) {
		if interval <= 0 {
			j.every = rate.Inf
			return
		}
		j.every = rate.Every(interval)
	}
}

// NewJob binds a snapshot of the stage list to an item. The slice is copied
// so later pipeline changes do not affect a running job.
func NewJob(it *item.Item, stages []Stage, reporter Reporter, opts ...JobOption) *Job {
	j := &Job{
		ID:       uuid.NewString(),
		item:     it,
		stages:   append([]Stage(nil), stages...),
		reporter: reporter,
		logger:   zap.NewNop(),
		every:    rate.Every(defaultProgressBackoff),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.limiters = make([]*rate.Limiter, len(j.stages))
	for i := range j.limiters {
		j.limiters[i] = rate.NewLimiter(j.every, 1)
	}
	j.logger = j.logger.With(zap.String("job", j.ID), zap.String("item", it.ID))
	return j
}

func (j *Job) Item() *item.Item {
	return j.item
}

// Exit tells the job to stop at the next checkpoint. Remaining stages are
// reported as aborted and the done callback is not invoked.
func (j *Job) Exit() {
	j.exit.Store(true)
}

func (j *Job) ShouldExit() bool {
	return j.exit.Load()
}

// Run executes every stage in order. Each stage ends with a terminal
// status; the first failure or skip is the reason reported for the item.
func (j *Job) Run(ctx context.Context) Result {
	j.reporter.UpdateStatus(ParentIndex, item.Running, "")

	var (
		failed, skipped  bool
		failure, skipMsg string
	)

	for idx, stage := range j.stages {
		j.reporter.UpdateStatus(idx, item.Running, "")

		status, message := j.runStage(ctx, idx, stage, failed, skipped)
		j.reporter.UpdateStatus(idx, status, message)

		switch status {
		case item.Failure:
			if !failed {
				failed = true
				failure = message
			}
		case item.Skipped:
			if !skipped {
				skipped = true
				skipMsg = message
			}
		}
	}

	result := Result{Status: item.Success}
	switch {
	case failed:
		result = Result{Status: item.Failure, Message: failure}
	case skipped:
		result = Result{Status: item.Skipped, Message: skipMsg}
	}
	j.reporter.UpdateStatus(ParentIndex, result.Status, result.Message)

	if !j.ShouldExit() && j.done != nil {
		j.done()
	}
	return result
}

func (j *Job) runStage(ctx context.Context, idx int, stage Stage, failed, skipped bool) (item.Status, string) {
	if j.aborted(ctx) {
		return item.Failure, MessageAborted
	}
	if failed {
		return item.Failure, MessageNotStarted
	}
	if skipped {
		return item.Skipped, MessagePrecedingSkip
	}

	logger := j.logger.With(zap.Int("stage", idx), zap.String("operation", stage.Name()))
	logger.Debug("stage started")
	start := time.Now()

	err := j.invoke(ctx, logger, &Task{Item: j.item, Index: idx, job: j}, stage)
	if err == nil {
		logger.Debug("stage completed", zap.Duration("duration", time.Since(start)))
		return item.Success, ""
	}

	var skip *SkipError
	if errors.As(err, &skip) {
		logger.Debug("stage skipped", zap.String("reason", skip.Message))
		return item.Skipped, skip.Message
	}
	if j.aborted(ctx) && errors.Is(err, context.Canceled) {
		return item.Failure, MessageAborted
	}

	logger.Warn("stage failed", zap.Error(err))
	return item.Failure, err.Error()
}

// invoke shields the worker from bugs in a stage: a panic becomes an
// ordinary failure.
func (j *Job) invoke(ctx context.Context, logger *zap.Logger, task *Task, stage Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("stage panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("unexpected error in %s: %v", stage.Name(), r)
		}
	}()
	return stage.Run(ctx, task)
}

func (j *Job) aborted(ctx context.Context) bool {
	return j.ShouldExit() || ctx.Err() != nil
}

func (j *Job) progress(idx int, percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent >= 100 {
		j.reporter.UpdateProgress(idx, 100)
		return
	}
	if idx < 0 || idx >= len(j.limiters) {
		return
	}
	if j.limiters[idx].Allow() {
		j.reporter.UpdateProgress(idx, percent)
	}
}
