package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/job/engine/inmem"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) SendMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type syncRunnable struct {
	ctl    job.Control
	fn     func(ctl job.Control) error
	stopFn func() error
}

func (r *syncRunnable) Start(ctl job.Control) error {
	r.ctl = ctl
	return r.fn(ctl)
}

func (r *syncRunnable) StopHandler() error {
	if r.stopFn != nil {
		return r.stopFn()
	}
	return nil
}

func newManager(notifier job.Notifier) (*job.Manager, store.JobStore) {
	js := store.NewMemoryJobStore()
	m := job.New(js, notifier, inmem.New(), telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	return m, js
}

func TestSubmit_CompletesSynchronouslyAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	m, js := newManager(notifier)

	r := &syncRunnable{fn: func(ctl job.Control) error {
		ctl.Complete(job.Result{Success: true, Message: "done"})
		return nil
	}}

	id, err := m.Submit(context.Background(), "demo", r)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	h, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, h.Status)
	assert.NotNil(t, h.CompletedAt)
	assert.Equal(t, 1, notifier.count())

	rec, err := js.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
}

func TestSubmit_StartFailureRemovesFromRegistry(t *testing.T) {
	m, _ := newManager(nil)
	r := &syncRunnable{fn: func(ctl job.Control) error {
		return errors.New("boom")
	}}

	id, err := m.Submit(context.Background(), "demo", r)
	assert.Error(t, err)
	assert.Empty(t, id)

	// Nothing is registered under any ID now; List should be empty.
	assert.Empty(t, m.List(nil))
}

func TestWaitForResult_BlocksUntilTerminal(t *testing.T) {
	notifier := &fakeNotifier{}
	m, _ := newManager(notifier)

	release := make(chan struct{})
	r := &syncRunnable{fn: func(ctl job.Control) error {
		go func() {
			<-release
			ctl.Complete(job.Result{Success: true, Message: "finished late"})
		}()
		return nil
	}}

	id, err := m.Submit(context.Background(), "watcher", r)
	require.NoError(t, err)

	resultCh := make(chan job.Result, 1)
	go func() {
		res, err := m.WaitForResult(context.Background(), id, 2*time.Second)
		require.NoError(t, err)
		resultCh <- res
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case res := <-resultCh:
		assert.True(t, res.Success)
		assert.Equal(t, "finished late", res.Message)
	case <-time.After(time.Second):
		t.Fatal("wait_for_result did not return")
	}
}

func TestWaitForResult_TimesOut(t *testing.T) {
	m, _ := newManager(nil)
	r := &syncRunnable{fn: func(ctl job.Control) error {
		// never completes within the test
		return nil
	}}
	id, err := m.Submit(context.Background(), "stuck", r)
	require.NoError(t, err)

	_, err = m.WaitForResult(context.Background(), id, 10*time.Millisecond)
	assert.ErrorIs(t, err, job.ErrTimeout)
}

func TestStop_InvokesStopHandlerAndMarksCancelled(t *testing.T) {
	notifier := &fakeNotifier{}
	m, _ := newManager(notifier)

	var stopped bool
	r := &syncRunnable{
		fn: func(ctl job.Control) error { return nil },
		stopFn: func() error {
			stopped = true
			return nil
		},
	}
	id, err := m.Submit(context.Background(), "long-running", r)
	require.NoError(t, err)

	ok, err := m.Stop(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, stopped)

	h, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, h.Status)
	assert.Equal(t, 1, notifier.count())
}

func TestStop_UnknownJobReturnsFalse(t *testing.T) {
	m, _ := newManager(nil)
	ok, err := m.Stop(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateStatus_TerminalTransitionIsIdempotent(t *testing.T) {
	notifier := &fakeNotifier{}
	m, _ := newManager(notifier)
	r := &syncRunnable{fn: func(ctl job.Control) error { return nil }}
	id, err := m.Submit(context.Background(), "demo", r)
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(context.Background(), id, job.StatusCompleted, &job.Result{Success: true}, ""))
	require.NoError(t, m.UpdateStatus(context.Background(), id, job.StatusCompleted, &job.Result{Success: true}, ""))

	assert.Equal(t, 1, notifier.count())
}

func TestUpdateStatus_RejectsConflictingTerminalStatus(t *testing.T) {
	notifier := &fakeNotifier{}
	m, _ := newManager(notifier)
	r := &syncRunnable{fn: func(ctl job.Control) error { return nil }}
	id, err := m.Submit(context.Background(), "demo", r)
	require.NoError(t, err)

	ok, err := m.Stop(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	// A late, conflicting terminal write (e.g. a runnable's own goroutine
	// calling Complete after the job was already cancelled) must not
	// overwrite the first terminal status or fire a second notification.
	require.NoError(t, m.UpdateStatus(context.Background(), id, job.StatusCompleted, &job.Result{Success: true}, ""))

	h, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, h.Status)
	assert.Equal(t, 1, notifier.count())
}

func TestExtractID_RecognizesSentinelForms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Started job with ID: abc-123", "abc-123"},
		{"Job ID: deadbeef-0001", "deadbeef-0001"},
		{"job abc-123", "abc-123"},
		{"no job reference here", ""},
	}
	for _, c := range cases {
		got, ok := job.ExtractID(c.in)
		if c.want == "" {
			assert.False(t, ok, c.in)
			continue
		}
		assert.True(t, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestResult_Report(t *testing.T) {
	r := &job.Result{}
	assert.Equal(t, "No output available", r.Report())

	r.Message = "hello"
	assert.Equal(t, "hello", r.Report())

	r.AddOutput("line one")
	r.AddOutput("line two")
	assert.Equal(t, "line one\nline two", r.Report())
}
