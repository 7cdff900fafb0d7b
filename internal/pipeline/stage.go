package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Stage is one operation of the configured pipeline. Run is called once
// per item on a worker goroutine and may block on I/O; it should watch
// ctx and, inside any loop, Task.ShouldExit.
//
// Returning nil marks the stage successful, returning a *SkipError (see
// Skip) skips the rest of the pipeline, and any other error fails it.
type Stage interface {
	Name() string
	Run(ctx context.Context, task *Task) error
}

// Preflighter is implemented by stages that need to validate or acquire
// resources once per monitoring session.
type Preflighter interface {
	PreflightCheck(ctx context.Context) error
}

// Postflighter is implemented by stages that release resources, or flush
// session level output, once monitoring stops.
type Postflighter interface {
	PostflightCleanup(ctx context.Context) error
}

// SkipError is the control signal a stage returns when the item does not
// need processing. It is not a failure.
type SkipError struct {
	Message string
}

func (e *SkipError) Error() string {
	return e.Message
}

func Skip(message string) error {
	return &SkipError{Message: message}
}

func Skipf(format string, args ...any) error {
	return &SkipError{Message: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err carries a skip condition.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// PreflightAll runs the session preflight hook of every stage that has one
// and stops at the first error. The stages already preflighted are then
// cleaned up again before the error is returned.
func PreflightAll(ctx context.Context, stages []Stage) error {
	for idx, stage := range stages {
		pf, ok := stage.(Preflighter)
		if !ok {
			continue
		}
		if err := pf.PreflightCheck(ctx); err != nil {
			err = fmt.Errorf("preflight of operation %d (%s): %w", idx, stage.Name(), err)
			if cerr := PostflightAll(ctx, stages[:idx]); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return err
		}
	}
	return nil
}

// PostflightAll runs every postflight hook, even when earlier ones fail.
func PostflightAll(ctx context.Context, stages []Stage) error {
	var errs []error
	for idx, stage := range stages {
		pf, ok := stage.(Postflighter)
		if !ok {
			continue
		}
		if err := pf.PostflightCleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postflight of operation %d (%s): %w", idx, stage.Name(), err))
		}
	}
	return errors.Join(errs...)
}
