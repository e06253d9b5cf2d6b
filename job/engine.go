package job

import "context"

// Engine decides how a Runnable's Start is actually invoked once a job has
// been registered: in-process (package job/engine/inmem) for the common
// case, or dispatched through a Temporal workflow (package
// job/engine/temporal), which records each start in Temporal's history but
// does not resume a job that was in flight when the process restarted.
// Manager depends only on this interface.
type Engine interface {
	// Run invokes runnable.Start, wiring ctl as its Control. It returns
	// once Start has returned (Start itself may have only launched
	// background work, per the Runnable contract).
	Run(ctx context.Context, jobID string, runnable Runnable, ctl Control) error
}
