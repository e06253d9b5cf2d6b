package temporal

import (
	"sync"

	"github.com/muellerberndt/legion-core/job"
)

type runnableEntry struct {
	runnable job.Runnable
	ctl      job.Control
}

type runnableRegistry struct {
	mu      sync.Mutex
	entries map[string]runnableEntry
}

func newRunnableRegistry() *runnableRegistry {
	return &runnableRegistry{entries: make(map[string]runnableEntry)}
}

func (r *runnableRegistry) put(jobID string, runnable job.Runnable, ctl job.Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jobID] = runnableEntry{runnable: runnable, ctl: ctl}
}

func (r *runnableRegistry) get(jobID string) (job.Runnable, job.Control, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	return e.runnable, e.ctl, ok
}

func (r *runnableRegistry) delete(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
}
