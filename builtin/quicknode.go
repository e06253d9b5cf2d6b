package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/watcher"
)

// quicknodeCheckInterval is large rather than zero: the original's
// interval=0 relies on check() being a no-op every cycle so the busy-loop
// costs nothing under asyncio's cooperative scheduler, but a Go
// time.After(0) on every iteration would spin a goroutine at 100% CPU for
// no purpose. This watcher is entirely webhook-driven; Check never finds
// anything, so the interval only bounds how long its poll goroutine sits
// idle between no-op cycles.
const quicknodeCheckInterval = 24 * time.Hour

// QuicknodeWatcher turns Quicknode's blockchain-event webhook deliveries
// into BLOCKCHAIN_EVENT triggers on the event bus. Grounded on original
// src/watchers/quicknode.py's QuicknodeWatcher (register_routes,
// handle_webhook unpacking a "payload" list of events).
type QuicknodeWatcher struct {
	bus *eventbus.Bus
}

// NewQuicknodeWatcher constructs a QuicknodeWatcher publishing onto bus.
func NewQuicknodeWatcher(bus *eventbus.Bus) *QuicknodeWatcher {
	return &QuicknodeWatcher{bus: bus}
}

func (w *QuicknodeWatcher) Name() string                         { return "quicknode" }
func (w *QuicknodeWatcher) Initialize(ctx context.Context) error { return nil }
func (w *QuicknodeWatcher) Interval() time.Duration              { return quicknodeCheckInterval }

// Check never finds anything on its own; all activity for this watcher
// arrives through RegisterRoutes' webhook handler instead.
func (w *QuicknodeWatcher) Check(ctx context.Context) ([]watcher.Event, error) {
	return nil, nil
}

// RegisterRoutes wires the /webhooks/quicknode path.
func (w *QuicknodeWatcher) RegisterRoutes(register func(path string, handler watcher.WebhookHandlerFunc)) {
	register("quicknode", w.handleWebhook)
}

type quicknodePayload struct {
	Payload json.RawMessage `json:"payload"`
}

// handleWebhook parses a Quicknode delivery and publishes one
// BLOCKCHAIN_EVENT per contained event, matching the original's tolerance
// for either a bare list or a {"payload": [...]} envelope. Every event
// object must carry a "logs" array whose entries each carry a "topics"
// array; malformed bodies and malformed events both fail with 400 and a
// plain-text explanation rather than publishing anything.
func (w *QuicknodeWatcher) handleWebhook(ctx context.Context, body []byte) (int, []byte, error) {
	events, err := parseQuicknodeEvents(body)
	if err != nil {
		return 400, []byte(err.Error()), nil
	}

	for i, ev := range events {
		if err := validateQuicknodeEvent(ev); err != nil {
			return 400, []byte(fmt.Sprintf("quicknode: event %d: %s", i, err.Error())), nil
		}
	}

	for _, ev := range events {
		w.bus.Publish(ctx, eventbus.TriggerBlockchainEvent, map[string]any{
			"source":  "quicknode",
			"payload": ev,
		})
	}
	return 200, []byte("OK"), nil
}

// validateQuicknodeEvent enforces the structural shape every event object
// must have: a "logs" array whose entries each have a "topics" array.
func validateQuicknodeEvent(ev any) error {
	obj, ok := ev.(map[string]any)
	if !ok {
		return errors.New("event must be a JSON object")
	}
	logsRaw, ok := obj["logs"]
	if !ok {
		return errors.New(`missing "logs" array`)
	}
	logs, ok := logsRaw.([]any)
	if !ok {
		return errors.New(`"logs" must be an array`)
	}
	for i, entry := range logs {
		logObj, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("logs[%d] must be an object", i)
		}
		topics, ok := logObj["topics"]
		if !ok {
			return fmt.Errorf(`logs[%d] missing "topics" array`, i)
		}
		if _, ok := topics.([]any); !ok {
			return fmt.Errorf(`logs[%d].topics must be an array`, i)
		}
	}
	return nil
}

func parseQuicknodeEvents(body []byte) ([]any, error) {
	var envelope quicknodePayload
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Payload != nil {
		var list []any
		if err := json.Unmarshal(envelope.Payload, &list); err == nil {
			return list, nil
		}
		var single any
		if err := json.Unmarshal(envelope.Payload, &single); err == nil {
			return []any{single}, nil
		}
	}

	var list []any
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var single any
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("quicknode: invalid webhook payload: %w", err)
	}
	return []any{single}, nil
}
