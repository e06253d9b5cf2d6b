// Package watcher implements the watcher subsystem (C5): periodic pollers
// and webhook-driven observers that detect external change, each run as a
// managed job.Runnable. Grounded on original src/jobs/watcher.py's
// WatcherJob (check/initialize/interval, watch loop with stop-signal
// selection) and src/watchers/manager.py (discovery, webhook route
// registration before the listener starts, checkpoint-backed persistence).
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
)

// Event is one occurrence a Watcher's Check detected, ready to be published
// on the event bus.
type Event struct {
	Trigger eventbus.Trigger
	Data    map[string]any
}

// Watcher is the contract a concrete poller implements. A fresh cycle is:
// Check is called, every returned Event is published, then the loop sleeps
// for min(Interval, until a stop signal arrives).
type Watcher interface {
	// Name identifies the watcher for logging, checkpointing, and the
	// active_watchers allowlist.
	Name() string
	// Initialize performs one-time setup: HTTP clients, credentials,
	// reading any persisted checkpoint via CheckpointStore.
	Initialize(ctx context.Context) error
	// Check performs one polling cycle and returns zero or more events.
	Check(ctx context.Context) ([]Event, error)
	// Interval is the delay between the end of one cycle and the start of
	// the next.
	Interval() time.Duration
}

// RouteRegistrar is implemented by watchers that also need webhook routes
// registered before the webhook server starts listening (spec §4.5).
type RouteRegistrar interface {
	RegisterRoutes(register func(path string, handler WebhookHandlerFunc))
}

// WebhookHandlerFunc matches webhook.HandlerFunc's signature without this
// package importing webhook directly, keeping the dependency direction
// pointed from webhook's built-in handlers toward watcher/eventbus, not
// the reverse.
type WebhookHandlerFunc func(ctx context.Context, body []byte) (status int, response []byte, err error)

// watcherJob adapts a Watcher into a job.Runnable: Start launches the watch loop
// on its own goroutine and returns immediately, matching the "start() may
// suspend or return quickly" contract C4 requires.
type watcherJob struct {
	w         Watcher
	bus       *eventbus.Bus
	logger    telemetry.Logger
	stop      chan struct{}
	runningCh chan struct{}
}

func newWatcherJob(w Watcher, bus *eventbus.Bus, logger telemetry.Logger) *watcherJob {
	return &watcherJob{w: w, bus: bus, logger: logger, stop: make(chan struct{})}
}

// Start initializes the watcher then launches its watch loop in the
// background. The loop runs until StopHandler is called; it does not mark
// the job completed on that exit, so the job keeps the CANCELLED status
// job.Manager.Stop gives it.
func (wj *watcherJob) Start(ctl job.Control) error {
	ctx := context.Background()
	if err := wj.w.Initialize(ctx); err != nil {
		return fmt.Errorf("watcher %s: initialize failed: %w", wj.w.Name(), err)
	}

	go wj.loop(ctx, ctl)
	return nil
}

func (wj *watcherJob) loop(ctx context.Context, ctl job.Control) {
	// Only report our own natural exit as a completion. A stop signal means
	// job.Manager.Stop already transitioned this job to CANCELLED and fired
	// its notification; calling Complete afterwards would try to clobber
	// that terminal status (UpdateStatus now rejects it, but there's no
	// reason to race the write at all).
	defer func() {
		select {
		case <-wj.stop:
			return
		default:
			ctl.Complete(job.Result{Success: true, Message: fmt.Sprintf("watcher %s stopped", wj.w.Name())})
		}
	}()

	for {
		events, err := wj.w.Check(ctx)
		if err != nil {
			wj.logger.Error("watcher: check cycle failed",
				telemetry.F("watcher", wj.w.Name()), telemetry.F("error", err.Error()))
			ctl.AppendOutput(fmt.Sprintf("check error: %s", err.Error()))
		}
		for _, ev := range events {
			wj.bus.Publish(ctx, ev.Trigger, ev.Data)
			ctl.AppendOutput(fmt.Sprintf("event detected - trigger: %s, data: %v", ev.Trigger, ev.Data))
		}

		select {
		case <-wj.stop:
			return
		case <-time.After(wj.w.Interval()):
			continue
		}
	}
}

// StopHandler signals the watch loop to exit; it does not itself wait for
// another Check cycle.
func (wj *watcherJob) StopHandler() error {
	close(wj.stop)
	return nil
}

// checkpointKey is the external identifier a watcher's checkpoint is keyed
// on in addition to the watcher's own name, e.g. a repository URL.
func checkpointKey(watcherName, externalKey string) (string, string) {
	return watcherName, externalKey
}

// SaveCheckpoint is a convenience a Watcher implementation can call from
// Check to persist its progress as an idempotent upsert keyed by
// (watcher name, external key).
func SaveCheckpoint(ctx context.Context, checkpoints store.CheckpointStore, watcherName, externalKey string, state map[string]any) error {
	wn, key := checkpointKey(watcherName, externalKey)
	return checkpoints.Save(ctx, store.WatcherCheckpoint{
		WatcherName: wn,
		Key:         key,
		State:       state,
		LastCheck:   time.Now(),
	})
}

// LoadCheckpoint is the Load-side counterpart of SaveCheckpoint.
func LoadCheckpoint(ctx context.Context, checkpoints store.CheckpointStore, watcherName, externalKey string) (store.WatcherCheckpoint, error) {
	wn, key := checkpointKey(watcherName, externalKey)
	return checkpoints.Load(ctx, wn, key)
}
