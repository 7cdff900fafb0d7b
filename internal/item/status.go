package item

// Status is the lifecycle state of a monitored item, or of one pipeline
// stage of that item. Stages only ever use Created (not started yet),
// Running and the terminal values.
type Status int

const (
	Created Status = iota
	Saved
	Queued
	Running
	Success
	Failure
	Skipped
	RemovedFromList
)

var statusNames = map[Status]string{
	Created:         "created",
	Saved:           "saved",
	Queued:          "queued",
	Running:         "running",
	Success:         "success",
	Failure:         "failure",
	Skipped:         "skipped",
	RemovedFromList: "removed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether a pipeline run has finished with this status.
func (s Status) Terminal() bool {
	return s == Success || s == Failure || s == Skipped
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{Created, Saved, Queued, Running, Success, Failure, Skipped, RemovedFromList}
}
