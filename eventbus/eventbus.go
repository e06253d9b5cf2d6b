// Package eventbus implements the event bus (C3): a trigger -> handler-set
// fan-out. Publish instantiates and invokes every handler subscribed to a
// trigger concurrently, isolates individual handler failures from their
// siblings, and persists exactly one EventLog row per invocation.
//
// Grounded on runtime/agent/hooks/bus.go's Bus/Subscriber/Subscription
// shape (mutex-protected subscriber map, idempotent Close via sync.Once),
// adapted from that file's fail-fast synchronous delivery to the
// concurrent-with-isolation semantics spec §4.3 requires; the persisted
// per-invocation EventLog follows original src/handlers/event_bus.py's
// trigger_event/_execute_handler split.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
)

// Trigger is a named event kind that fans out to handlers. The closed set
// of built-in values is declared below; RegisterTrigger mints additional
// trigger names at runtime.
type Trigger string

// Built-in triggers (spec §3).
const (
	TriggerNewProject      Trigger = "NEW_PROJECT"
	TriggerProjectUpdate   Trigger = "PROJECT_UPDATE"
	TriggerProjectRemove   Trigger = "PROJECT_REMOVE"
	TriggerNewAsset        Trigger = "NEW_ASSET"
	TriggerAssetUpdate     Trigger = "ASSET_UPDATE"
	TriggerAssetRemove     Trigger = "ASSET_REMOVE"
	TriggerGithubPush      Trigger = "GITHUB_PUSH"
	TriggerGithubPR        Trigger = "GITHUB_PR"
	TriggerBlockchainEvent Trigger = "BLOCKCHAIN_EVENT"
	TriggerContractUpgrade Trigger = "CONTRACT_UPGRADED"
)

type (
	// Result is what a Handler's Handle method returns.
	Result struct {
		Success bool
		Data    any
	}

	// Handler reacts to one published event. A fresh Handler instance is
	// constructed (via its Factory) for every invocation, mirroring the
	// per-event `handler_class()` instantiation in the original Python bus.
	Handler interface {
		// Handle processes one event. ctx carries the surrounding request's
		// deadline/cancellation; eventCtx is the free-form payload Publish
		// was called with.
		Handle(ctx context.Context, trigger Trigger, eventCtx map[string]any) (Result, error)
	}

	// Factory constructs a fresh Handler instance. HandlerFunc-style
	// adapters make it easy to subscribe a plain function.
	Factory func() Handler

	subscription struct {
		name    string
		factory Factory
	}

	// Bus is the central event bus. It is safe for concurrent use.
	Bus struct {
		mu         sync.RWMutex
		handlers   map[Trigger][]subscription
		customSeen map[string]Trigger

		logs    store.EventLogStore
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}
)

// New constructs a Bus that persists one EventLogStore row per handler
// invocation. Pass a telemetry.NoopLogger/NoopMetrics if observability is
// not configured yet.
func New(logs store.EventLogStore, logger telemetry.Logger, metrics telemetry.Metrics) *Bus {
	return &Bus{
		handlers:   make(map[Trigger][]subscription),
		customSeen: make(map[string]Trigger),
		logs:       logs,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterTrigger returns the Trigger for name, minting a new one the first
// time name is seen. Subsequent calls with the same name return the same
// Trigger value, so callers never need to coordinate who "owns" a custom
// trigger name.
func (b *Bus) RegisterTrigger(name string) Trigger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.customSeen[name]; ok {
		return t
	}
	t := Trigger(name)
	b.customSeen[name] = t
	return t
}

// Subscribe registers factory to handle every occurrence of each given
// trigger. name identifies the handler in EventLog rows and should be
// unique and stable (typically the handler's Go type name).
func (b *Bus) Subscribe(name string, factory Factory, triggers ...Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := subscription{name: name, factory: factory}
	for _, t := range triggers {
		b.handlers[t] = append(b.handlers[t], sub)
	}
}

// Publish fans context out to every handler subscribed to trigger,
// concurrently. Each handler's failure (a returned error) is isolated from
// its siblings: it never aborts the fan-out and never escapes Publish. An
// EventLog row is written for every invocation, success or failure, so the
// handler catalog cannot silently drop an event (spec invariant, §3).
//
// Publish returns once every handler invocation has completed and its
// EventLog row has been written (best-effort fan-out completion; there is
// no ordering guarantee among sibling handlers, per spec §4.3).
func (b *Bus) Publish(ctx context.Context, trigger Trigger, eventCtx map[string]any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[trigger]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Warn("eventbus: no handlers registered for trigger", telemetry.F("trigger", string(trigger)))
		return
	}

	b.logger.Info("eventbus: publishing",
		telemetry.F("trigger", string(trigger)),
		telemetry.F("handler_count", len(subs)))

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, sub := range subs {
		go func(sub subscription) {
			defer wg.Done()
			b.invokeAndLog(ctx, sub, trigger, eventCtx)
		}(sub)
	}
	wg.Wait()
}

func (b *Bus) invokeAndLog(ctx context.Context, sub subscription, trigger Trigger, eventCtx map[string]any) {
	handler := sub.factory()
	result, err := safeHandle(ctx, handler, trigger, eventCtx)

	var logResult any
	if err != nil {
		b.logger.Error("eventbus: handler failed",
			telemetry.F("handler", sub.name),
			telemetry.F("trigger", string(trigger)),
			telemetry.F("error", err.Error()))
		logResult = map[string]any{"success": false, "error": err.Error()}
		b.metrics.IncCounter("eventbus_handler_failures_total", telemetry.F("handler", sub.name), telemetry.F("trigger", string(trigger)))
	} else {
		logResult = map[string]any{"success": result.Success, "data": result.Data}
	}
	b.metrics.IncCounter("eventbus_handler_invocations_total", telemetry.F("handler", sub.name), telemetry.F("trigger", string(trigger)))

	if b.logs == nil {
		return
	}
	if appendErr := b.logs.Append(ctx, store.EventLogRecord{
		ID:          uuid.NewString(),
		HandlerName: sub.name,
		Trigger:     string(trigger),
		Result:      logResult,
	}); appendErr != nil {
		b.logger.Error("eventbus: failed to persist event log",
			telemetry.F("handler", sub.name), telemetry.F("error", appendErr.Error()))
	}
}

// safeHandle invokes handler.Handle and converts a panic into an error so
// one misbehaving handler can never take down the fan-out goroutine group.
func safeHandle(ctx context.Context, handler Handler, trigger Trigger, eventCtx map[string]any) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, trigger, eventCtx)
}
