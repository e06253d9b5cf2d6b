// Package job implements the job manager (C4): the process-wide registry of
// long-running tasks, their lifecycle, persistence, cancellation, and
// completion notification. A Watcher (package watcher) is a specialization
// of a Job.
//
// Grounded on original src/jobs/base.py (Job/JobResult/JobStatus shape,
// complete/fail/cancel terminal transitions with notification) and
// src/jobs/manager.py (submit/stop/update_status/register_job flow), recast
// from the Python singleton/session-per-call pattern onto an explicit
// *Manager value constructed once at composition root and a store.JobStore
// for persistence, per the dependency-injection style runtime/agent/engine
// shows for agent/session managers.
package job

import (
	"regexp"
	"time"
)

// Status is a Job's lifecycle state. Exactly one terminal status is ever
// reached: PENDING -> RUNNING -> {COMPLETED | FAILED | CANCELLED}, with
// RUNNING -> CANCELLED also permitted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the three terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Result is a job's outcome. Outputs is append-only while the job is
// RUNNING: a job records exactly what it produced and it is never
// truncated in storage.
type Result struct {
	Success bool
	Message string
	Data    any
	Outputs []string
}

// AddOutput appends one line to the result's output buffer.
func (r *Result) AddOutput(line string) {
	r.Outputs = append(r.Outputs, line)
}

// Report renders the result as a single human-readable string: the joined
// outputs if any were recorded, else the message, else a placeholder. This
// mirrors JobResult.get_output in the original implementation and is the
// text the planner takes as a launched job's result once it completes.
func (r *Result) Report() string {
	if r == nil {
		return "No output available"
	}
	if len(r.Outputs) > 0 {
		out := r.Outputs[0]
		for _, line := range r.Outputs[1:] {
			out += "\n" + line
		}
		return out
	}
	if r.Message != "" {
		return r.Message
	}
	return "No output available"
}

// Handle is the in-memory representation of one submitted job: identity and
// lifecycle bookkeeping owned by Manager. The actual unit of work is the
// Runnable supplied at submission time.
type Handle struct {
	ID          string
	Type        string
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *Result
	Error       string

	runnable Runnable
}

// ToRecord projects the handle into its durable representation.
func (h *Handle) ToRecord() (id, jobType string, status Status, createdAt time.Time, startedAt, completedAt *time.Time, result *Result, errText string) {
	return h.ID, h.Type, h.Status, h.CreatedAt, h.StartedAt, h.CompletedAt, h.Result, h.Error
}

// Runnable is the contract a concrete job type implements. Start begins
// work and may return quickly after launching background work on its own
// goroutine; the manager does not assume Start blocks for the job's
// duration. Complete/Fail are called by the runnable itself (via the
// Control passed to Start) to report its own terminal
// outcome. StopHandler releases resources and signals any internal loop to
// exit; it must not itself flip the job to CANCELLED — the manager does
// that once StopHandler returns.
type Runnable interface {
	Start(ctl Control) error
	StopHandler() error
}

// Control is handed to a Runnable so it can report progress and its own
// terminal outcome without reaching back into the Manager's bookkeeping
// directly.
type Control interface {
	// JobID returns the job's ID, for logging/correlation.
	JobID() string
	// AppendOutput flushes one output line to the durable record
	// immediately, so long-running jobs surface partial progress.
	AppendOutput(line string)
	// Complete marks the job COMPLETED with result.
	Complete(result Result)
	// Fail marks the job FAILED with the given error text.
	Fail(errText string)
}

var jobIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Jj]ob (?:ID: )?([a-f0-9-]+)`),
	regexp.MustCompile(`[Jj]ob_id: ([a-f0-9-]+)`),
	regexp.MustCompile(`(?s)[Ss]tarted.*[Jj]ob.*?([a-f0-9-]+)`),
}

// ExtractID scans a handler result string for an embedded job identifier,
// recognizing the "Started job with ID: <uuid>" sentinel convention (and
// the looser variants a human-authored action result might use). Callers
// that detect a non-empty return value must transparently await the job's
// terminal result via Manager.WaitForResult instead of surfacing the raw
// string (spec §4.1 Extension rule).
func ExtractID(result string) (string, bool) {
	for _, pattern := range jobIDPatterns {
		if m := pattern.FindStringSubmatch(result); m != nil {
			return m[1], true
		}
	}
	return "", false
}
