package builtin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/builtin"
	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/notify"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
)

type discardNotifier struct{}

func (discardNotifier) SendMessage(string) error { return nil }

func TestRegister_WiresActionsWatchersAndHandler(t *testing.T) {
	reg, jobs, watchers := newTestManagers(t)
	bus := eventbus.New(nil, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	checkpoints := store.NewMemoryCheckpointStore()
	var notifier notify.Notifier = discardNotifier{}

	err := builtin.Register(reg, jobs, watchers, bus, checkpoints, notifier, builtin.GitHubWatcherConfig{}, telemetry.NewNoopLogger())
	require.NoError(t, err)

	_, _, ok := reg.Get("status")
	assert.True(t, ok)

	// Register only adds watchers to the discoverable catalog; Names()
	// reports what's actually running, so confirm the catalog accepted
	// both factories by starting them and observing they come up.
	require.NoError(t, watchers.Start(t.Context(), []string{"quicknode", "github"}, func(string, watcher.WebhookHandlerFunc) {}))
	t.Cleanup(func() { _ = watchers.Stop(t.Context()) })
	assert.Contains(t, watchers.Names(), "quicknode")
	assert.Contains(t, watchers.Names(), "github")
}
