package watcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/telemetry"
)

// Factory constructs a fresh Watcher instance, analogous to the Python
// implementation's discovery of a WatcherJob subclass by name.
type Factory func() Watcher

// Manager owns the lifecycle of configured watchers: construction,
// initialization, submission to the job Manager, optional webhook route
// registration, and coordinated shutdown. Grounded on
// src/watchers/manager.py's WatcherManager.start/stop.
type Manager struct {
	mu        sync.Mutex
	factories map[string]Factory
	running   map[string]string // watcher name -> job ID
	jobs      *job.Manager
	bus       *eventbus.Bus
	logger    telemetry.Logger
}

// New constructs a watcher Manager. jobs and bus must be non-nil.
func New(jobs *job.Manager, bus *eventbus.Bus, logger telemetry.Logger) *Manager {
	return &Manager{
		factories: make(map[string]Factory),
		running:   make(map[string]string),
		jobs:      jobs,
		bus:       bus,
		logger:    logger,
	}
}

// Register adds a watcher factory to the discoverable catalog, keyed by
// name. Typically called by builtins at startup and by the extension
// loader for user-provided watchers.
func (m *Manager) Register(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = factory
}

// RegisterRouteFunc registers a watcher's webhook routes. Supplied by the
// composition root, which owns the concrete webhook.Server; kept as a
// plain function value here so this package does not need to import
// webhook.
type RegisterRouteFunc func(path string, handler WebhookHandlerFunc)

// Start constructs, initializes, and submits every watcher named in
// activeWatchers as a job, registering any webhook routes it declares via
// registerRoute before returning. Unknown names are logged and skipped,
// matching the original's tolerant behavior rather than failing the whole
// startup sequence.
func (m *Manager) Start(ctx context.Context, activeWatchers []string, registerRoute RegisterRouteFunc) error {
	m.mu.Lock()
	factories := make(map[string]Factory, len(m.factories))
	for k, v := range m.factories {
		factories[k] = v
	}
	m.mu.Unlock()

	for _, name := range activeWatchers {
		factory, ok := factories[name]
		if !ok {
			m.logger.Warn("watcher: not found, skipping", telemetry.F("watcher", name))
			continue
		}

		w := factory()
		if registrar, ok := w.(RouteRegistrar); ok && registerRoute != nil {
			registrar.RegisterRoutes(registerRoute)
			m.logger.Info("watcher: registered webhook routes", telemetry.F("watcher", name))
		}

		wj := newWatcherJob(w, m.bus, m.logger)
		jobID, err := m.jobs.Submit(ctx, "watcher", wj)
		if err != nil {
			m.logger.Error("watcher: failed to start", telemetry.F("watcher", name), telemetry.F("error", err.Error()))
			continue
		}

		m.mu.Lock()
		m.running[name] = jobID
		m.mu.Unlock()
		m.logger.Info("watcher: started", telemetry.F("watcher", name), telemetry.F("job_id", jobID))
	}
	return nil
}

// Stop cancels every running watcher's job. Webhook server shutdown is the
// composition root's responsibility, mirroring the original's ordering
// (watchers stop, then the webhook server stops).
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	running := make(map[string]string, len(m.running))
	for k, v := range m.running {
		running[k] = v
	}
	m.running = make(map[string]string)
	m.mu.Unlock()

	var firstErr error
	for name, jobID := range running {
		m.logger.Info("watcher: stopping", telemetry.F("watcher", name))
		if _, err := m.jobs.Stop(ctx, jobID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("watcher %s: %w", name, err)
		}
	}
	return firstErr
}

// Names returns the names of every currently running watcher.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for name := range m.running {
		out = append(out, name)
	}
	return out
}
