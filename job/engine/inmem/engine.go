// Package inmem provides the default job.Engine: it invokes a job's Start
// directly, in-process, with no durability beyond whatever the surrounding
// store.JobStore persists. Grounded on runtime/agent/engine/inmem/engine.go's
// role as the no-external-dependency baseline engine alongside a durable
// alternative (job/engine/temporal).
package inmem

import (
	"context"

	"github.com/muellerberndt/legion-core/job"
)

// Engine is the in-process job.Engine implementation.
type Engine struct{}

// New constructs an in-process Engine.
func New() *Engine { return &Engine{} }

// Run invokes runnable.Start synchronously on the calling goroutine.
func (e *Engine) Run(ctx context.Context, jobID string, runnable job.Runnable, ctl job.Control) error {
	return runnable.Start(ctl)
}
