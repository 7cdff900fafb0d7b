package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

const defaultTickInterval = time.Second

// Manager owns the item table. Every mutation of the table runs on a single
// owner goroutine; callers and jobs send it commands instead of touching the
// table themselves.
type Manager struct {
	cfg       Config
	stages    []pipeline.Stage
	logger    *zap.Logger
	observers []Observer
	now       func() time.Time
	interval  time.Duration
	progress  time.Duration

	mu      sync.Mutex
	session *session

	// owned by the session's owner goroutine
	table   map[string]*entry
	order   []string
	running int
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, obs)
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithTickInterval sets the period of the promotion and dispatch tick. Zero
// disables the ticker; the tick then only runs when triggered explicitly.
func WithTickInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.interval = interval
	}
}

// WithProgressInterval sets the minimum spacing of progress updates a job
// forwards for each stage.
func WithProgressInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.progress = interval
	}
}

func New(cfg Config, stages []pipeline.Stage, opts ...Option) *Manager {
	m := &Manager{
		stages:   append([]pipeline.Stage(nil), stages...),
		logger:   zap.NewNop(),
		now:      time.Now,
		interval: defaultTickInterval,
		progress: 200 * time.Millisecond,
		table:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("queue")
	m.cfg = cfg.normalize(m.logger)
	return m
}

// Config returns the effective configuration after clamping.
func (m *Manager) Config() Config {
	return m.cfg
}

// session is one Start/Stop cycle. Jobs hold on to the session that
// dispatched them, so anything they post after Stop is dropped.
type session struct {
	id     string
	cmds   chan func()
	quit   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

// do runs fn on the owner goroutine and waits for it to finish.
func (s *session) do(fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.cmds <- cmd:
	case <-s.quit:
		return ErrNotStarted
	}
	<-finished
	return nil
}

// post queues fn for the owner goroutine without waiting for it. It is
// dropped if the session has ended.
func (s *session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.quit:
	}
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Start runs the preflight hook of every stage and starts the owner
// goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return ErrAlreadyRunning
	}
	if err := pipeline.PreflightAll(ctx, m.stages); err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		cmds:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    jobCtx,
		cancel: cancel,
	}
	m.session = s
	go m.loop(s)

	m.logger.Info("queue manager started",
		zap.String("session", s.id),
		zap.Int("max_threads", m.cfg.MaxThreads),
		zap.Int("stages", len(m.stages)))
	return nil
}

// Stop tells every running job to exit, clears the table and ends the
// session. It then waits for the jobs to return, or for ctx to be done,
// and runs the postflight hooks.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return ErrNotRunning
	}

	s.do(m.clear)
	s.cancel()
	close(s.quit)
	<-s.done

	drained := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("jobs still running after stop", zap.Error(ctx.Err()))
	}

	err := pipeline.PostflightAll(ctx, m.stages)
	if err != nil {
		m.logger.Error("postflight failed", zap.Error(err))
	}
	m.logger.Info("queue manager stopped", zap.String("session", s.id))
	return err
}

// Running reports the number of jobs currently running.
func (m *Manager) Running() int {
	s := m.current()
	if s == nil {
		return 0
	}
	var n int
	if err := s.do(func() { n = m.running }); err != nil {
		return 0
	}
	return n
}

// Snapshot returns copies of the visible rows in insertion order.
func (m *Manager) Snapshot() []Row {
	s := m.current()
	if s == nil {
		return nil
	}
	var rows []Row
	s.do(func() {
		for _, id := range m.order {
			e := m.table[id]
			if e.hidden() {
				continue
			}
			rows = append(rows, e.row.clone())
		}
	})
	return rows
}

// Add registers newly discovered items. An item whose identity is already in
// the table is treated as a save event.
func (m *Manager) Add(items ...*item.Item) error {
	s := m.current()
	if s == nil {
		return ErrNotStarted
	}
	for _, it := range items {
		if it.Status != item.Created && it.Status != item.Saved {
			return &InvalidStatusError{ID: it.ID, Status: it.Status}
		}
	}
	return s.do(func() {
		for _, it := range items {
			m.add(it)
		}
	})
}

// Saved reports that items have stabilized or changed again. Unknown
// identities are logged and ignored.
func (m *Manager) Saved(ids ...string) error {
	s := m.current()
	if s == nil {
		return ErrNotStarted
	}
	return s.do(func() {
		for _, id := range ids {
			m.saved(id)
		}
	})
}

func (m *Manager) loop(s *session) {
	defer close(s.done)

	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case cmd := <-s.cmds:
			cmd()
		case <-tick:
			m.tick(s)
		case <-s.quit:
			return
		}
	}
}

// step runs one tick on the owner goroutine.
func (m *Manager) step() error {
	s := m.current()
	if s == nil {
		return ErrNotStarted
	}
	return s.do(func() { m.tick(s) })
}

func (m *Manager) emit(typ EventType, e *entry) {
	if len(m.observers) == 0 {
		return
	}
	ev := Event{Type: typ, Row: e.row.clone(), Running: m.running}
	for _, obs := range m.observers {
		obs(ev)
	}
}
