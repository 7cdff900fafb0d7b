package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

type entry struct {
	item     *item.Item
	row      Row
	finished time.Time

	job    *pipeline.Job
	cancel context.CancelFunc

	// pending is a newer payload waiting for the item to be free of a job.
	pending *item.Item
}

// hidden reports whether the row has left the presentation view.
func (e *entry) hidden() bool {
	return e.item.Status == item.RemovedFromList && !e.item.Requeue
}

func (m *Manager) newEntry(it *item.Item) *entry {
	e := &entry{item: it}
	e.row = Row{
		ID:      it.ID,
		Rel:     it.Rel,
		Kind:    it.Kind,
		Created: it.Created,
		Saved:   it.Saved,
	}
	e.resetRow()
	return e
}

// resetRow puts the progress and messages of the row back to their
// initial values.
func (e *entry) resetRow() {
	e.row.Status = e.item.Status
	e.row.Message = ""
	e.row.Progress = 0
	e.row.Requeue = e.item.Requeue
	e.row.Saved = e.item.Saved
}

func (m *Manager) resetStages(e *entry) {
	e.row.Stages = make([]StageRow, len(m.stages))
	for i, stage := range m.stages {
		e.row.Stages[i] = StageRow{Name: stage.Name(), Status: item.Created}
	}
}

func (m *Manager) sync(e *entry) {
	e.row.Status = e.item.Status
	e.row.Requeue = e.item.Requeue
	e.row.Saved = e.item.Saved
}

func (m *Manager) add(it *item.Item) {
	if e, ok := m.table[it.ID]; ok {
		m.logger.Debug("item already known, treating as saved", zap.String("item", it.ID))
		e.pending = it
		m.saved(it.ID)
		return
	}

	now := m.now()
	it.Created = now
	it.Requeue = false
	if it.Status == item.Saved {
		it.Saved = now
	}

	e := m.newEntry(it)
	m.resetStages(e)
	m.table[it.ID] = e
	m.order = append(m.order, it.ID)

	m.logger.Debug("item added", zap.String("item", it.ID), zap.Stringer("status", it.Status))
	m.emit(Inserted, e)
}

func (m *Manager) saved(id string) {
	e, ok := m.table[id]
	if !ok {
		m.logger.Warn("saved event for unknown item", zap.String("item", id))
		return
	}

	it := e.item
	switch it.Status {
	case item.Created, item.Saved, item.Queued:
		it.Status = item.Saved
		it.Saved = m.now()
		m.refresh(e)
		m.sync(e)
		m.emit(Changed, e)

	case item.RemovedFromList:
		wasHidden := e.hidden()
		it.Requeue = true
		m.sync(e)
		if wasHidden {
			m.emit(Inserted, e)
		} else {
			m.emit(Changed, e)
		}

	default:
		it.Requeue = true
		m.sync(e)
		m.emit(Changed, e)
	}
}

// tick dispatches queued items and then applies the time based promotions.
// Items promoted to Queued here are dispatched on the next tick.
func (m *Manager) tick(s *session) {
	m.dispatch(s)

	now := m.now()
	for _, id := range m.order {
		e := m.table[id]
		it := e.item

		switch it.Status {
		case item.Created:
			if m.cfg.CreatedPromotionActive && now.Sub(it.Created) > m.cfg.createdDelay() {
				it.Status = item.Saved
				it.Saved = now
				m.sync(e)
				m.emit(Changed, e)
			}

		case item.Saved:
			if now.Sub(it.Saved) > m.cfg.savedDelay() {
				it.Status = item.Queued
				m.sync(e)
				m.emit(Changed, e)
			}

		case item.Success, item.Failure, item.Skipped, item.RemovedFromList:
			if it.Requeue {
				if e.job == nil {
					m.requeue(e, now)
				}
				continue
			}
			if it.Status == item.Success && m.cfg.RemovalPromotionActive &&
				now.Sub(e.finished) > m.cfg.removalDelay() {
				it.Status = item.RemovedFromList
				m.sync(e)
				m.logger.Debug("item removed from list", zap.String("item", id))
				m.emit(Removed, e)
			}
		}
	}
}

// refresh applies a pending payload. Only called while no job holds the item.
func (m *Manager) refresh(e *entry) {
	if e.pending == nil || e.job != nil {
		return
	}
	e.item.Refresh(e.pending)
	e.pending = nil
}

func (m *Manager) requeue(e *entry, now time.Time) {
	it := e.item
	m.refresh(e)
	it.Requeue = false
	it.Status = item.Saved
	it.Saved = now
	it.Metadata().Clear()
	e.finished = time.Time{}
	e.resetRow()
	m.resetStages(e)

	m.logger.Debug("item requeued", zap.String("item", it.ID))
	m.emit(Changed, e)
}

func (m *Manager) dispatch(s *session) {
	for _, id := range m.order {
		if m.running >= m.cfg.MaxThreads {
			return
		}
		e := m.table[id]
		if e.item.Status != item.Queued {
			continue
		}
		m.start(s, e)
	}
}

func (m *Manager) start(s *session, e *entry) {
	it := e.item
	it.Status = item.Running
	m.sync(e)

	rep := &reporter{m: m, s: s, id: it.ID}
	job := pipeline.NewJob(it, m.stages, rep,
		pipeline.WithJobLogger(m.logger.Named("job")),
		pipeline.WithProgressInterval(m.progress),
		pipeline.WithDone(func() {
			s.post(func() { m.finish(rep.job) })
		}),
	)
	rep.job = job

	ctx, cancel := context.WithCancel(s.ctx)
	e.job = job
	e.cancel = cancel
	m.running++

	m.logger.Debug("job dispatched",
		zap.String("item", it.ID), zap.String("job", job.ID), zap.Int("running", m.running))
	m.emit(Changed, e)

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer cancel()
		job.Run(ctx)
	}()
}

// finish releases the admission slot of a job that completed on its own.
func (m *Manager) finish(job *pipeline.Job) {
	e, ok := m.table[job.Item().ID]
	if !ok || e.job != job {
		return
	}
	e.job = nil
	e.cancel = nil
	if m.running > 0 {
		m.running--
	}
	m.emit(Changed, e)
}

// clear tells every job to exit and empties the table.
func (m *Manager) clear() {
	for _, id := range m.order {
		e := m.table[id]
		if e.job != nil {
			e.job.Exit()
			e.cancel()
		}
		if !e.hidden() {
			m.emit(Removed, e)
		}
	}
	m.table = make(map[string]*entry)
	m.order = nil
	m.running = 0
}

func (m *Manager) lookup(id string, job *pipeline.Job) (*entry, bool) {
	e, ok := m.table[id]
	if !ok || e.job != job {
		return nil, false
	}
	return e, true
}

func (m *Manager) updateStatus(e *entry, stage int, status item.Status, message string) {
	if stage == pipeline.ParentIndex {
		e.item.Status = status
		e.row.Message = message
		if status == item.Success {
			e.row.Progress = 100
		}
		if status.Terminal() {
			e.finished = m.now()
		}
		m.sync(e)
		m.emit(Changed, e)
		return
	}

	if stage < 0 || stage >= len(e.row.Stages) {
		return
	}
	sr := &e.row.Stages[stage]
	sr.Status = status
	sr.Message = message
	if status == item.Success {
		sr.Progress = 100
		m.aggregate(e)
	}
	m.emit(Changed, e)
}

func (m *Manager) updateProgress(e *entry, stage int, percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if stage == pipeline.ParentIndex {
		e.row.Progress = percent
		m.emit(Changed, e)
		return
	}
	if stage < 0 || stage >= len(e.row.Stages) {
		return
	}
	e.row.Stages[stage].Progress = percent
	m.aggregate(e)
	m.emit(Changed, e)
}

// aggregate sets the parent progress to the mean of the stage progress.
func (m *Manager) aggregate(e *entry) {
	if len(e.row.Stages) == 0 {
		return
	}
	var total float64
	for _, sr := range e.row.Stages {
		total += sr.Progress
	}
	e.row.Progress = total / float64(len(e.row.Stages))
}

// reporter is the job's handle back into the table. Every call is posted to
// the owner goroutine of the session that dispatched the job.
type reporter struct {
	m   *Manager
	s   *session
	id  string
	job *pipeline.Job
}

func (r *reporter) UpdateStatus(stage int, status item.Status, message string) {
	r.s.post(func() {
		if e, ok := r.m.lookup(r.id, r.job); ok {
			r.m.updateStatus(e, stage, status, message)
		}
	})
}

func (r *reporter) UpdateProgress(stage int, percent float64) {
	r.s.post(func() {
		if e, ok := r.m.lookup(r.id, r.job); ok {
			r.m.updateProgress(e, stage, percent)
		}
	})
}
