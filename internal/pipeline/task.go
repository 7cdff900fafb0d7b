package pipeline

import "github.com/studio1767/filemon/internal/item"

// Task is what a stage sees of the job running it: the item, its own
// position in the pipeline, and the channels back to the queue manager.
type Task struct {
	Item  *item.Item
	Index int

	job *Job
}

// UpdateProgress reports this stage's progress in percent. Updates are
// coalesced, so stages can call it as often as they like.
func (t *Task) UpdateProgress(percent float64) {
	t.job.progress(t.Index, percent)
}

// SetMetadata stores a value for later stages under this stage's index.
func (t *Task) SetMetadata(key, value string) {
	t.Item.Metadata().Set(t.Index, key, value)
}

// Metadata reads a value written by an earlier stage. Reads of the
// current or later stages always miss.
func (t *Task) Metadata(stage int, key string) (string, bool) {
	if stage < 0 || stage >= t.Index {
		return "", false
	}
	return t.Item.Metadata().Get(stage, key)
}

// MetadataFrom reads a value written by the closest earlier stage with the
// given name.
func (t *Task) MetadataFrom(name, key string) (string, bool) {
	for idx := t.Index - 1; idx >= 0; idx-- {
		if t.job.stages[idx].Name() != name {
			continue
		}
		if v, ok := t.Item.Metadata().Get(idx, key); ok {
			return v, true
		}
	}
	return "", false
}

// ShouldExit reports whether the job has been told to stop. Stages with
// their own polling or copy loops check it every iteration.
func (t *Task) ShouldExit() bool {
	return t.job.ShouldExit()
}
