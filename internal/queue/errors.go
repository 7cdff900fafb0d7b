package queue

import (
	"errors"
	"fmt"

	"github.com/studio1767/filemon/internal/item"
)

var (
	ErrNotStarted     = errors.New("queue manager not started")
	ErrAlreadyRunning = errors.New("queue manager already running")
	ErrNotRunning     = errors.New("queue manager not running")
	ErrInvalidStatus  = errors.New("invalid initial status")
)

// InvalidStatusError is returned by Add for an item whose initial status is
// neither Created nor Saved.
type InvalidStatusError struct {
	ID     string
	Status item.Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("%s: item %s has status %s", ErrInvalidStatus, e.ID, e.Status)
}

func (e *InvalidStatusError) Is(target error) bool {
	return target == ErrInvalidStatus
}
