package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/pipeline"
)

type update struct {
	stage   int
	status  item.Status
	message string
}

type recorder struct {
	mu       sync.Mutex
	updates  []update
	progress map[int][]float64
}

func newRecorder() *recorder {
	return &recorder{progress: make(map[int][]float64)}
}

func (r *recorder) UpdateStatus(stage int, status item.Status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update{stage, status, message})
}

func (r *recorder) UpdateProgress(stage int, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[stage] = append(r.progress[stage], percent)
}

// final returns the last status reported for each stage, keyed by index.
func (r *recorder) final() map[int]update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]update)
	for _, u := range r.updates {
		out[u.stage] = u
	}
	return out
}

type stubStage struct {
	name string
	run  func(ctx context.Context, task *pipeline.Task) error
	runs int
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Run(ctx context.Context, task *pipeline.Task) error {
	s.runs++
	if s.run == nil {
		return nil
	}
	return s.run(ctx, task)
}

func ok(name string) *stubStage { return &stubStage{name: name} }

func fails(name string, err error) *stubStage {
	return &stubStage{name: name, run: func(context.Context, *pipeline.Task) error { return err }}
}

func skips(name, message string) *stubStage {
	return &stubStage{name: name, run: func(context.Context, *pipeline.Task) error { return pipeline.Skip(message) }}
}

func testItem() *item.Item {
	return item.NewURL("https://example.com/a.bin")
}

func TestJobAllSucceed(t *testing.T) {
	rec := newRecorder()
	doneCalls := 0
	job := pipeline.NewJob(testItem(), []pipeline.Stage{ok("a"), ok("b")}, rec,
		pipeline.WithDone(func() { doneCalls++ }))

	res := job.Run(context.Background())
	require.Equal(t, item.Success, res.Status)
	require.Empty(t, res.Message)
	require.Equal(t, 1, doneCalls)

	final := rec.final()
	require.Equal(t, item.Success, final[0].status)
	require.Equal(t, item.Success, final[1].status)
	require.Equal(t, item.Success, final[pipeline.ParentIndex].status)

	// parent goes running first, then each stage running before its result
	require.Equal(t, update{pipeline.ParentIndex, item.Running, ""}, rec.updates[0])
	require.Equal(t, update{0, item.Running, ""}, rec.updates[1])
	require.Equal(t, update{0, item.Success, ""}, rec.updates[2])
}

func TestJobSkipPropagates(t *testing.T) {
	rec := newRecorder()
	third := ok("c")
	job := pipeline.NewJob(testItem(), []pipeline.Stage{ok("a"), skips("b", "cached"), third}, rec)

	res := job.Run(context.Background())
	require.Equal(t, pipeline.Result{Status: item.Skipped, Message: "cached"}, res)
	require.Equal(t, 0, third.runs)

	final := rec.final()
	require.Equal(t, update{0, item.Success, ""}, final[0])
	require.Equal(t, update{1, item.Skipped, "cached"}, final[1])
	require.Equal(t, update{2, item.Skipped, pipeline.MessagePrecedingSkip}, final[2])
	require.Equal(t, update{pipeline.ParentIndex, item.Skipped, "cached"}, final[pipeline.ParentIndex])
}

func TestJobFailurePropagates(t *testing.T) {
	rec := newRecorder()
	second := ok("b")
	job := pipeline.NewJob(testItem(), []pipeline.Stage{fails("a", errors.New("disk full")), second}, rec)

	res := job.Run(context.Background())
	require.Equal(t, pipeline.Result{Status: item.Failure, Message: "disk full"}, res)
	require.Equal(t, 0, second.runs)

	final := rec.final()
	require.Equal(t, update{0, item.Failure, "disk full"}, final[0])
	require.Equal(t, update{1, item.Failure, pipeline.MessageNotStarted}, final[1])
	require.Equal(t, update{pipeline.ParentIndex, item.Failure, "disk full"}, final[pipeline.ParentIndex])
}

func TestJobPanicBecomesFailure(t *testing.T) {
	rec := newRecorder()
	boom := &stubStage{name: "boom", run: func(context.Context, *pipeline.Task) error { panic("nil map") }}
	job := pipeline.NewJob(testItem(), []pipeline.Stage{boom, ok("b")}, rec)

	res := job.Run(context.Background())
	require.Equal(t, item.Failure, res.Status)
	require.Equal(t, "unexpected error in boom: nil map", res.Message)
	require.Equal(t, pipeline.MessageNotStarted, rec.final()[1].message)
}

func TestJobExitAbortsRemainingStages(t *testing.T) {
	rec := newRecorder()
	doneCalls := 0
	var job *pipeline.Job
	first := &stubStage{name: "a", run: func(context.Context, *pipeline.Task) error {
		job.Exit()
		return nil
	}}
	second := ok("b")
	job = pipeline.NewJob(testItem(), []pipeline.Stage{first, second}, rec,
		pipeline.WithDone(func() { doneCalls++ }))

	res := job.Run(context.Background())
	require.Equal(t, pipeline.Result{Status: item.Failure, Message: pipeline.MessageAborted}, res)
	require.Equal(t, 0, second.runs)
	require.Equal(t, 0, doneCalls)
	require.True(t, job.ShouldExit())
}

func TestJobContextCancelledDuringStage(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	blocking := &stubStage{name: "wait", run: func(ctx context.Context, _ *pipeline.Task) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}
	job := pipeline.NewJob(testItem(), []pipeline.Stage{blocking, ok("b")}, rec)

	res := job.Run(ctx)
	require.Equal(t, pipeline.Result{Status: item.Failure, Message: pipeline.MessageAborted}, res)
	require.Equal(t, update{1, item.Failure, pipeline.MessageAborted}, rec.final()[1])
}

func TestTaskMetadataVisibility(t *testing.T) {
	rec := newRecorder()
	var seen, own, byName string
	var foundOwn bool
	writer := &stubStage{name: "hash", run: func(_ context.Context, task *pipeline.Task) error {
		task.SetMetadata("sha256", "abc")
		return nil
	}}
	reader := &stubStage{name: "upload", run: func(_ context.Context, task *pipeline.Task) error {
		seen, _ = task.Metadata(0, "sha256")
		task.SetMetadata("key", "data/abc")
		own, foundOwn = task.Metadata(1, "key")
		byName, _ = task.MetadataFrom("hash", "sha256")
		return nil
	}}
	job := pipeline.NewJob(testItem(), []pipeline.Stage{writer, reader}, rec)

	res := job.Run(context.Background())
	require.Equal(t, item.Success, res.Status)
	require.Equal(t, "abc", seen)
	require.Equal(t, "abc", byName)
	require.False(t, foundOwn)
	require.Empty(t, own)
}

func TestProgressCoalescing(t *testing.T) {
	rec := newRecorder()
	stage := &stubStage{name: "copy", run: func(_ context.Context, task *pipeline.Task) error {
		for pct := 0.0; pct <= 100; pct += 10 {
			task.UpdateProgress(pct)
		}
		return nil
	}}
	job := pipeline.NewJob(testItem(), []pipeline.Stage{stage}, rec)
	job.Run(context.Background())

	got := rec.progress[0]
	require.NotEmpty(t, got)
	require.Less(t, len(got), 11)
	require.Equal(t, 100.0, got[len(got)-1])

	rec = newRecorder()
	job = pipeline.NewJob(testItem(), []pipeline.Stage{stage}, rec, pipeline.WithProgressInterval(0))
	job.Run(context.Background())
	require.Len(t, rec.progress[0], 11)
}

func TestProgressSpacedPerStage(t *testing.T) {
	first := &stubStage{name: "hash", run: func(_ context.Context, task *pipeline.Task) error {
		task.UpdateProgress(50)
		return nil
	}}
	second := &stubStage{name: "upload", run: func(_ context.Context, task *pipeline.Task) error {
		task.UpdateProgress(10)
		return nil
	}}

	rec := newRecorder()
	job := pipeline.NewJob(testItem(), []pipeline.Stage{first, second}, rec,
		pipeline.WithProgressInterval(time.Hour))
	job.Run(context.Background())

	require.Equal(t, []float64{50}, rec.progress[0])
	require.Equal(t, []float64{10}, rec.progress[1])
}

func TestLifecycleHooks(t *testing.T) {
	hooked := &hookStage{stubStage: stubStage{name: "hooked"}}
	stages := []pipeline.Stage{ok("plain"), hooked}

	require.NoError(t, pipeline.PreflightAll(context.Background(), stages))
	require.Equal(t, 1, hooked.pre)

	hooked.postErr = errors.New("flush failed")
	err := pipeline.PostflightAll(context.Background(), stages)
	require.ErrorContains(t, err, "flush failed")
	require.Equal(t, 1, hooked.post)

	hooked.preErr = errors.New("no credentials")
	err = pipeline.PreflightAll(context.Background(), stages)
	require.ErrorIs(t, err, hooked.preErr)
}

func TestPreflightFailureCleansUpEarlierStages(t *testing.T) {
	opened := &hookStage{stubStage: stubStage{name: "catalogue"}}
	broken := &hookStage{stubStage: stubStage{name: "upload"}, preErr: errors.New("no recipients")}
	later := &hookStage{stubStage: stubStage{name: "copy"}}

	err := pipeline.PreflightAll(context.Background(), []pipeline.Stage{opened, broken, later})
	require.ErrorIs(t, err, broken.preErr)

	require.Equal(t, 1, opened.pre)
	require.Equal(t, 1, opened.post)
	require.Zero(t, broken.post)
	require.Zero(t, later.pre)
	require.Zero(t, later.post)
}

type hookStage struct {
	stubStage
	pre, post       int
	preErr, postErr error
}

func (h *hookStage) PreflightCheck(context.Context) error {
	h.pre++
	return h.preErr
}

func (h *hookStage) PostflightCleanup(context.Context) error {
	h.post++
	return h.postErr
}
