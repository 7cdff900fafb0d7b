package queue

import (
	"time"

	"github.com/studio1767/filemon/internal/item"
)

// StageRow is the presentation state of one pipeline stage of an item.
type StageRow struct {
	Name     string
	Status   item.Status
	Message  string
	Progress float64
}

// Row is the presentation state of one item. Rows handed out by the
// manager are copies.
type Row struct {
	ID       string
	Rel      string
	Kind     item.Kind
	Status   item.Status
	Message  string
	Progress float64
	Requeue  bool
	Created  time.Time
	Saved    time.Time
	Stages   []StageRow
}

func (r Row) clone() Row {
	r.Stages = append([]StageRow(nil), r.Stages...)
	return r
}

type EventType int

const (
	Changed EventType = iota
	Inserted
	Removed
)

func (t EventType) String() string {
	switch t {
	case Changed:
		return "changed"
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is sent to observers whenever a row is inserted into, changed in, or
// removed from the presentation view. Running is the number of jobs running
// at the time of the event.
type Event struct {
	Type    EventType
	Row     Row
	Running int
}

// Observer receives events on the manager's owner goroutine and must not
// block.
type Observer func(Event)
