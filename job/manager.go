package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
)

// ErrNotFound is returned when an operation names a job ID the Manager has
// no record of (whether it never existed or has already been forgotten).
var ErrNotFound = errors.New("job: not found")

// ErrTimeout is returned by WaitForResult when the deadline elapses before
// the job reaches a terminal state.
var ErrTimeout = errors.New("job: wait timed out")

// Notifier is the narrow interface the job manager needs from C10. Defined
// here, at the point of consumption, so this package never imports the
// notify package (spec §9 Design Notes: interface segregation over
// concrete dependencies, to avoid import cycles).
type Notifier interface {
	SendMessage(text string) error
}

type entry struct {
	handle *Handle
	done   chan struct{} // closed exactly once, when the job reaches a terminal state
}

// Manager is the single source of truth for long-running work: one
// process-wide instance, constructed once at composition root and passed
// by reference to every component that submits or inspects jobs.
//
// Submissions are serialized against the internal registry only for
// insertion/lookup; job execution itself runs concurrently with all other
// jobs. Grounded on src/jobs/manager.py's JobManager (submit_job,
// stop_job, update_job_status, register_job), restructured from a
// singleton keyed on a shared DB session into an explicit value holding a
// store.JobStore and a Notifier.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	store   store.JobStore
	notify  Notifier
	engine  Engine
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// New constructs a Manager. notifier may be nil, in which case terminal
// transitions are not announced anywhere but the log. engine decides how a
// Runnable's Start is actually invoked; pass job/engine/inmem.New() for the
// common in-process case.
func New(jobStore store.JobStore, notifier Notifier, engine Engine, logger telemetry.Logger, metrics telemetry.Metrics) *Manager {
	return &Manager{
		jobs:    make(map[string]*entry),
		store:   jobStore,
		notify:  notifier,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}
}

// Submit registers a new job of the given type, persists its initial
// PENDING record, then calls Start synchronously before returning — Submit
// returns only once Start has been invoked (not once the job has finished;
// Start is expected to return quickly for jobs that do their real work in
// the background, per the Runnable contract).
//
// If Start returns an error, the job is marked FAILED, persisted, and
// removed from the in-memory registry before the error is surfaced to the
// caller — a job that fails to start leaves no trace in List/Get beyond
// its (already-persisted) terminal record.
func (m *Manager) Submit(ctx context.Context, jobType string, runnable Runnable) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	handle := &Handle{
		ID:        id,
		Type:      jobType,
		Status:    StatusPending,
		CreatedAt: now,
		runnable:  runnable,
	}
	e := &entry{handle: handle, done: make(chan struct{})}

	m.mu.Lock()
	m.jobs[id] = e
	m.mu.Unlock()

	if err := m.persist(ctx, handle); err != nil {
		m.logger.Error("job: failed to persist new job", telemetry.F("job_id", id), telemetry.F("error", err.Error()))
	}

	m.logger.Info("job: submitted", telemetry.F("job_id", id), telemetry.F("type", jobType))
	m.metrics.IncCounter("job_submissions_total", telemetry.F("type", jobType))

	started := time.Now()
	m.mu.Lock()
	handle.Status = StatusRunning
	handle.StartedAt = &started
	m.mu.Unlock()

	ctl := &control{manager: m, jobID: id}
	if err := m.engine.Run(ctx, id, runnable, ctl); err != nil {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()

		handle.Status = StatusFailed
		handle.Error = err.Error()
		completed := time.Now()
		handle.CompletedAt = &completed
		if perr := m.persist(ctx, handle); perr != nil {
			m.logger.Error("job: failed to persist start failure", telemetry.F("job_id", id), telemetry.F("error", perr.Error()))
		}
		close(e.done)
		m.notifyTerminal(handle)
		return "", fmt.Errorf("job: failed to start %s: %w", jobType, err)
	}

	if err := m.persist(ctx, handle); err != nil {
		m.logger.Error("job: failed to persist running state", telemetry.F("job_id", id), telemetry.F("error", err.Error()))
	}

	return id, nil
}

// Get returns the handle for id.
func (m *Manager) Get(id string) (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.handle, nil
}

// List returns every registered job, optionally filtered by status. A nil
// filter returns every job.
func (m *Manager) List(filter func(Status) bool) []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.jobs))
	for _, e := range m.jobs {
		if filter == nil || filter(e.handle.Status) {
			out = append(out, e.handle)
		}
	}
	return out
}

// MostRecentFinished returns the most recently completed terminal job, or
// nil if none has finished yet.
func (m *Manager) MostRecentFinished() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Handle
	for _, e := range m.jobs {
		h := e.handle
		if !h.Status.IsTerminal() || h.CompletedAt == nil {
			continue
		}
		if best == nil || h.CompletedAt.After(*best.CompletedAt) {
			best = h
		}
	}
	return best
}

// Stop calls the job's StopHandler for cleanup, then marks it CANCELLED and
// persists the transition. Returns false if id is unknown.
func (m *Manager) Stop(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("job: stop requested for unknown job", telemetry.F("job_id", id))
		return false, nil
	}

	if e.handle.Status.IsTerminal() {
		return true, nil
	}

	if err := e.handle.runnable.StopHandler(); err != nil {
		m.logger.Error("job: stop_handler failed", telemetry.F("job_id", id), telemetry.F("error", err.Error()))
	}

	m.mu.Lock()
	completed := time.Now()
	e.handle.Status = StatusCancelled
	e.handle.CompletedAt = &completed
	m.mu.Unlock()

	if err := m.persist(ctx, e.handle); err != nil {
		m.logger.Error("job: failed to persist cancellation", telemetry.F("job_id", id), telemetry.F("error", err.Error()))
	}
	m.closeDoneOnce(e)
	m.notifyTerminal(e.handle)
	return true, nil
}

// UpdateStatus transitions the job to status. The transition is idempotent:
// once a job has reached any terminal status, every subsequent call is a
// no-op, even one naming a different terminal status — a job has exactly
// one terminal status and the first writer wins. Every transition into a
// terminal state produces exactly one notification.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status Status, result *Result, errText string) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("job: update_status for unknown job", telemetry.F("job_id", id))
		return ErrNotFound
	}
	if e.handle.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}

	e.handle.Status = status
	if result != nil {
		e.handle.Result = result
	}
	if errText != "" {
		e.handle.Error = errText
	}
	isTerminal := status.IsTerminal()
	if isTerminal && e.handle.CompletedAt == nil {
		completed := time.Now()
		e.handle.CompletedAt = &completed
	}
	handle := e.handle
	m.mu.Unlock()

	if err := m.persist(ctx, handle); err != nil {
		m.logger.Error("job: failed to persist status update", telemetry.F("job_id", id), telemetry.F("error", err.Error()))
	}
	if isTerminal {
		m.closeDoneOnce(e)
		m.notifyTerminal(handle)
	}
	return nil
}

// WaitForResult blocks until the job reaches a terminal state or timeout
// elapses, returning the job's result. A FAILED job still returns its
// Result (success=false); a CANCELLED job with no Result returns a
// synthetic one so callers never need a nil check.
func (m *Manager) WaitForResult(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Result{}, ErrNotFound
	}

	select {
	case <-e.done:
	case <-time.After(timeout):
		return Result{}, ErrTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if e.handle.Result != nil {
		return *e.handle.Result, nil
	}
	return Result{Success: e.handle.Status == StatusCompleted, Message: e.handle.Error}, nil
}

func (m *Manager) closeDoneOnce(e *entry) {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (m *Manager) persist(ctx context.Context, h *Handle) error {
	if m.store == nil {
		return nil
	}
	id, jobType, status, createdAt, startedAt, completedAt, result, errText := h.ToRecord()
	rec := store.JobRecord{
		ID:          id,
		Type:        jobType,
		Status:      string(status),
		CreatedAt:   createdAt,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Error:       errText,
	}
	if result != nil {
		success := result.Success
		rec.Success = &success
		rec.Message = result.Message
		rec.Data = result.Data
		rec.Outputs = result.Outputs
	}
	return m.store.Save(ctx, rec)
}

func (m *Manager) notifyTerminal(h *Handle) {
	if m.notify == nil {
		return
	}
	var icon, detail string
	switch h.Status {
	case StatusCompleted:
		icon = "Completed"
		detail = fmt.Sprintf("Use /job %s to view results", h.ID)
	case StatusFailed:
		icon = "Failed"
		detail = fmt.Sprintf("Use /job %s for details", h.ID)
	case StatusCancelled:
		icon = "Cancelled"
		detail = fmt.Sprintf("Use /job %s for details", h.ID)
	default:
		return
	}
	text := fmt.Sprintf("Job %s (%s): %s. %s", h.ID, h.Type, icon, detail)
	if err := m.notify.SendMessage(text); err != nil {
		m.logger.Error("job: failed to send completion notification", telemetry.F("job_id", h.ID), telemetry.F("error", err.Error()))
	}
}

// control is the Runnable-facing handle a Manager hands out at Start time.
type control struct {
	manager *Manager
	jobID   string
}

func (c *control) JobID() string { return c.jobID }

func (c *control) AppendOutput(line string) {
	c.manager.mu.Lock()
	e, ok := c.manager.jobs[c.jobID]
	if !ok {
		c.manager.mu.Unlock()
		return
	}
	if e.handle.Result == nil {
		e.handle.Result = &Result{}
	}
	e.handle.Result.AddOutput(line)
	handle := e.handle
	c.manager.mu.Unlock()

	if err := c.manager.persist(context.Background(), handle); err != nil {
		c.manager.logger.Error("job: failed to persist output", telemetry.F("job_id", c.jobID), telemetry.F("error", err.Error()))
	}
}

func (c *control) Complete(result Result) {
	_ = c.manager.UpdateStatus(context.Background(), c.jobID, StatusCompleted, &result, "")
}

func (c *control) Fail(errText string) {
	_ = c.manager.UpdateStatus(context.Background(), c.jobID, StatusFailed, &Result{Success: false, Message: errText}, errText)
}
