// Package scheduler implements the scheduler (C7): declarative periodic
// execution of actions at fixed intervals with enable/disable controls.
//
// Grounded on original src/jobs/scheduler.py's Scheduler/ScheduledAction
// (schedule_action's unknown-action refusal, one asyncio task per enabled
// action, 60s retry-after-failure sleep), recast from the Python
// singleton onto an explicit *Scheduler value holding a
// command.Dispatcher and a store.ScheduledActionStore.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/command"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
)

// retryDelay is how long the per-action tick loop waits after a failed
// run before trying again (spec §4.7).
const retryDelay = 60 * time.Second

// Dispatch is the narrow interface the scheduler needs from the action
// registry, defined at the point of consumption to avoid a dependency on
// the registry's full surface.
type Dispatch interface {
	Dispatch(ctx context.Context, name string, args action.Args) (action.Result, error)
}

// ScheduledAction is one named periodic execution. Enabled is mutated only
// through Enable/Disable.
type ScheduledAction struct {
	Name            string
	Command         string
	IntervalMinutes int
	Enabled         bool
	LastRun         *time.Time

	cancel context.CancelFunc
}

// Status is the read-only projection List/Status expose.
type Status struct {
	Name            string
	Command         string
	Enabled         bool
	IntervalMinutes int
	LastRun         *time.Time
	NextRun         *time.Time
}

// Scheduler owns the named map of ScheduledAction and the one ticker
// goroutine per enabled action.
type Scheduler struct {
	mu      sync.Mutex
	actions map[string]*ScheduledAction
	running bool

	registry Dispatch
	store    store.ScheduledActionStore
	logger   telemetry.Logger
	lookup   func(name string) bool
}

// New constructs a Scheduler. registry executes the action on each tick.
// lookup reports whether an action name is registered and is what Schedule
// consults to refuse unknown actions; the composition root typically
// wires this to action.Registry's Get. A nil lookup accepts any name,
// useful in tests that stub Dispatch directly.
func New(registry Dispatch, actionStore store.ScheduledActionStore, logger telemetry.Logger, lookup func(name string) bool) *Scheduler {
	return &Scheduler{
		actions:  make(map[string]*ScheduledAction),
		registry: registry,
		store:    actionStore,
		logger:   logger,
		lookup:   lookup,
	}
}

// LoadConfig schedules every entry in cfg, in iteration order. Entries
// naming an unknown action are logged and skipped, not fatal to the rest
// of the load (matching the original's per-entry error handling).
func (s *Scheduler) LoadConfig(ctx context.Context, cfg map[string]Config) {
	for name, c := range cfg {
		if err := s.Schedule(ctx, name, c.Command, c.IntervalMinutes, c.Enabled); err != nil {
			s.logger.Error("scheduler: failed to load scheduled action",
				telemetry.F("name", name), telemetry.F("error", err.Error()))
		}
	}
}

// Config is one entry of the scheduler's YAML configuration.
type Config struct {
	Command         string `yaml:"command"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	Enabled         bool   `yaml:"enabled"`
}

// Schedule registers a new action, refusing to schedule one whose leading
// command word is not a registered action (spec invariant: "will not
// schedule an unknown action, verified at registration, not only at first
// tick").
func (s *Scheduler) Schedule(ctx context.Context, name, cmd string, intervalMinutes int, enabled bool) error {
	actionName, _ := command.ParseMessage(cmd)
	if s.lookup != nil && !s.lookup(actionName) {
		return fmt.Errorf("scheduler: cannot schedule unknown action: %s", cmd)
	}

	s.mu.Lock()
	sa := &ScheduledAction{Name: name, Command: cmd, IntervalMinutes: intervalMinutes, Enabled: enabled}
	s.actions[name] = sa
	running := s.running
	s.mu.Unlock()

	s.logger.Info("scheduler: scheduled action",
		telemetry.F("name", name), telemetry.F("command", cmd), telemetry.F("interval_minutes", intervalMinutes))

	if running && enabled {
		s.startTick(sa)
	}
	return s.persist(ctx, sa)
}

// Enable turns on a previously-disabled action. A no-op if already
// enabled. Returns false if name is unknown.
func (s *Scheduler) Enable(name string) bool {
	s.mu.Lock()
	sa, ok := s.actions[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if sa.Enabled {
		s.mu.Unlock()
		return true
	}
	sa.Enabled = true
	running := s.running
	s.mu.Unlock()

	if running {
		s.startTick(sa)
	}
	s.logger.Info("scheduler: enabled action", telemetry.F("name", name))
	return true
}

// Disable cancels the per-action tick task and marks it disabled. Returns
// false if name is unknown.
func (s *Scheduler) Disable(name string) bool {
	s.mu.Lock()
	sa, ok := s.actions[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sa.Enabled = false
	cancel := sa.cancel
	sa.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("scheduler: disabled action", telemetry.F("name", name))
	return true
}

// List returns the status of every scheduled action.
func (s *Scheduler) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.actions))
	for _, sa := range s.actions {
		out = append(out, statusOf(sa))
	}
	return out
}

// Status returns the status of one scheduled action, or false if unknown.
func (s *Scheduler) Status(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa, ok := s.actions[name]
	if !ok {
		return Status{}, false
	}
	return statusOf(sa), true
}

func statusOf(sa *ScheduledAction) Status {
	st := Status{Name: sa.Name, Command: sa.Command, Enabled: sa.Enabled, IntervalMinutes: sa.IntervalMinutes, LastRun: sa.LastRun}
	if sa.LastRun != nil {
		next := sa.LastRun.Add(time.Duration(sa.IntervalMinutes) * time.Minute)
		st.NextRun = &next
	}
	return st
}

// Start begins the per-action tick loop for every currently enabled
// action. Calling Start again while running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	actions := make([]*ScheduledAction, 0, len(s.actions))
	for _, sa := range s.actions {
		if sa.Enabled {
			actions = append(actions, sa)
		}
	}
	s.mu.Unlock()

	s.logger.Info("scheduler: starting")
	for _, sa := range actions {
		s.startTick(sa)
	}
}

// Stop cancels every running tick loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	cancels := make([]context.CancelFunc, 0, len(s.actions))
	for _, sa := range s.actions {
		if sa.cancel != nil {
			cancels = append(cancels, sa.cancel)
			sa.cancel = nil
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) startTick(sa *ScheduledAction) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	sa.cancel = cancel
	s.mu.Unlock()

	go s.tickLoop(ctx, sa)
}

func (s *Scheduler) tickLoop(ctx context.Context, sa *ScheduledAction) {
	for {
		delay := s.runOnce(ctx, sa)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, sa *ScheduledAction) time.Duration {
	name, rest := command.ParseMessage(sa.Command)
	parsed := command.ParseArguments(rest)

	var args action.Args
	if parsed.Named != nil {
		args = action.Args{Named: parsed.Named}
	} else {
		args = action.Args{Positional: parsed.Positional}
	}

	_, err := s.registry.Dispatch(ctx, name, args)
	if err != nil {
		s.logger.Error("scheduler: action failed",
			telemetry.F("name", sa.Name), telemetry.F("command", sa.Command), telemetry.F("error", err.Error()))
		return retryDelay
	}

	now := time.Now()
	s.mu.Lock()
	sa.LastRun = &now
	s.mu.Unlock()
	s.logger.Info("scheduler: executed action", telemetry.F("name", sa.Name))
	_ = s.persist(ctx, sa)

	return time.Duration(sa.IntervalMinutes) * time.Minute
}

func (s *Scheduler) persist(ctx context.Context, sa *ScheduledAction) error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, store.ScheduledActionRecord{
		Name:            sa.Name,
		Command:         sa.Command,
		IntervalMinutes: sa.IntervalMinutes,
		Enabled:         sa.Enabled,
		LastRun:         sa.LastRun,
	})
}
