package watcher_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/job"
	jobinmem "github.com/muellerberndt/legion-core/job/engine/inmem"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
)

type fakeWatcher struct {
	checks      int32
	initialized int32
	interval    time.Duration
}

func (w *fakeWatcher) Name() string { return "fake" }

func (w *fakeWatcher) Initialize(ctx context.Context) error {
	atomic.AddInt32(&w.initialized, 1)
	return nil
}

func (w *fakeWatcher) Check(ctx context.Context) ([]watcher.Event, error) {
	n := atomic.AddInt32(&w.checks, 1)
	return []watcher.Event{{Trigger: eventbus.TriggerNewAsset, Data: map[string]any{"n": n}}}, nil
}

func (w *fakeWatcher) Interval() time.Duration { return w.interval }

func TestManager_StartSubmitsAndPublishes(t *testing.T) {
	logger := telemetry.NewNoopLogger()
	bus := eventbus.New(store.NewMemoryEventLogStore(), logger, telemetry.NewNoopMetrics())

	var received int32
	bus.Subscribe("counter", func() eventbus.Handler {
		return handlerFunc(func(ctx context.Context, trigger eventbus.Trigger, eventCtx map[string]any) (eventbus.Result, error) {
			atomic.AddInt32(&received, 1)
			return eventbus.Result{Success: true}, nil
		})
	}, eventbus.TriggerNewAsset)

	jobs := job.New(store.NewMemoryJobStore(), nil, jobinmem.New(), logger, telemetry.NewNoopMetrics())
	mgr := watcher.New(jobs, bus, logger)

	fw := &fakeWatcher{interval: 10 * time.Millisecond}
	mgr.Register("fake", func() watcher.Watcher { return fw })

	require.NoError(t, mgr.Start(context.Background(), []string{"fake"}, nil))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fw.initialized))
	assert.Contains(t, mgr.Names(), "fake")

	running := jobs.List(func(s job.Status) bool { return s == job.StatusRunning })
	require.Len(t, running, 1)
	jobID := running[0].ID

	require.NoError(t, mgr.Stop(context.Background()))
	assert.Empty(t, mgr.Names())

	// The job's terminal status must stick at CANCELLED: the watch loop's
	// own goroutine exits right after Stop and must not race a second,
	// conflicting terminal write back to COMPLETED.
	handle, err := jobs.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, handle.Status)
}

func TestManager_Start_UnknownWatcherIsSkippedNotFatal(t *testing.T) {
	logger := telemetry.NewNoopLogger()
	bus := eventbus.New(store.NewMemoryEventLogStore(), logger, telemetry.NewNoopMetrics())
	jobs := job.New(store.NewMemoryJobStore(), nil, jobinmem.New(), logger, telemetry.NewNoopMetrics())
	mgr := watcher.New(jobs, bus, logger)

	err := mgr.Start(context.Background(), []string{"does-not-exist"}, nil)
	assert.NoError(t, err)
	assert.Empty(t, mgr.Names())
}

type handlerFunc func(ctx context.Context, trigger eventbus.Trigger, eventCtx map[string]any) (eventbus.Result, error)

func (f handlerFunc) Handle(ctx context.Context, trigger eventbus.Trigger, eventCtx map[string]any) (eventbus.Result, error) {
	return f(ctx, trigger, eventCtx)
}
