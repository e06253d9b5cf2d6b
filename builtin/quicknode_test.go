package builtin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/builtin"
	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
)

type capturingHandler struct {
	ch chan map[string]any
}

func (h *capturingHandler) Handle(ctx context.Context, trigger eventbus.Trigger, eventCtx map[string]any) (eventbus.Result, error) {
	h.ch <- eventCtx
	return eventbus.Result{Success: true}, nil
}

func TestQuicknodeWatcher_Interval(t *testing.T) {
	w := builtin.NewQuicknodeWatcher(eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics()))
	assert.Greater(t, w.Interval().Hours(), 1.0)
}

func TestQuicknodeWatcher_CheckIsAlwaysANoop(t *testing.T) {
	w := builtin.NewQuicknodeWatcher(eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics()))
	events, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestQuicknodeWatcher_RegisterRoutesAndPublishEnvelope(t *testing.T) {
	ch := make(chan map[string]any, 4)
	bus := eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	bus.Subscribe("capture", func() eventbus.Handler { return &capturingHandler{ch: ch} }, eventbus.TriggerBlockchainEvent)

	w := builtin.NewQuicknodeWatcher(bus)

	var registered watcher.WebhookHandlerFunc
	w.RegisterRoutes(func(path string, handler watcher.WebhookHandlerFunc) {
		assert.Equal(t, "quicknode", path)
		registered = handler
	})
	require.NotNil(t, registered)

	status, _, err := registered(context.Background(), []byte(`{"payload": [
		{"logs": [{"topics": ["0xabc"]}], "tx":"0x1"},
		{"logs": [{"topics": ["0xdef"]}], "tx":"0x2"}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, 200, status)

	first := <-ch
	second := <-ch
	assert.Equal(t, "quicknode", first["source"])
	assert.Equal(t, "quicknode", second["source"])
}

func TestQuicknodeWatcher_RegisterRoutesAndPublishBareObject(t *testing.T) {
	ch := make(chan map[string]any, 1)
	bus := eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	bus.Subscribe("capture", func() eventbus.Handler { return &capturingHandler{ch: ch} }, eventbus.TriggerBlockchainEvent)

	w := builtin.NewQuicknodeWatcher(bus)
	var registered watcher.WebhookHandlerFunc
	w.RegisterRoutes(func(path string, handler watcher.WebhookHandlerFunc) { registered = handler })

	status, _, err := registered(context.Background(), []byte(`{"logs": [{"topics": ["0x123"]}], "tx":"0x3"}`))
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	evt := <-ch
	assert.Equal(t, "quicknode", evt["source"])
}

func TestQuicknodeWatcher_RegisterRoutesRejectsEventMissingLogs(t *testing.T) {
	ch := make(chan map[string]any, 1)
	bus := eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	bus.Subscribe("capture", func() eventbus.Handler { return &capturingHandler{ch: ch} }, eventbus.TriggerBlockchainEvent)

	w := builtin.NewQuicknodeWatcher(bus)
	var registered watcher.WebhookHandlerFunc
	w.RegisterRoutes(func(path string, handler watcher.WebhookHandlerFunc) { registered = handler })

	status, body, err := registered(context.Background(), []byte(`{"tx":"0x3"}`))
	require.NoError(t, err)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), `"logs"`)
	select {
	case <-ch:
		t.Fatal("no event should have been published for a malformed event")
	default:
	}
}

func TestQuicknodeWatcher_RegisterRoutesRejectsLogEntryMissingTopics(t *testing.T) {
	bus := eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	w := builtin.NewQuicknodeWatcher(bus)
	var registered watcher.WebhookHandlerFunc
	w.RegisterRoutes(func(path string, handler watcher.WebhookHandlerFunc) { registered = handler })

	status, body, err := registered(context.Background(), []byte(`{"payload": [{"logs": [{"data":"0x1"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), `"topics"`)
}

func TestQuicknodeWatcher_RegisterRoutesRejectsInvalidJSON(t *testing.T) {
	bus := eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	w := builtin.NewQuicknodeWatcher(bus)
	var registered watcher.WebhookHandlerFunc
	w.RegisterRoutes(func(path string, handler watcher.WebhookHandlerFunc) { registered = handler })

	status, _, err := registered(context.Background(), []byte(`{not valid json`))
	require.NoError(t, err)
	assert.Equal(t, 400, status)
}
