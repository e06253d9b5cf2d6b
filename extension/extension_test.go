package extension

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
)

func emptyRegistries(t *testing.T) Registries {
	t.Helper()
	return Registries{
		Actions:  action.New(),
		Events:   eventbus.New(store.NewMemoryEventLogStore(), telemetry.NewNoopLogger(), telemetry.NewNoopMetrics()),
		Watchers: watcher.New(nil, nil, telemetry.NewNoopLogger()),
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reset()
	defer reset()

	called := false
	Register("sample", func(ctx context.Context, reg Registries) error {
		called = true
		return nil
	})

	r, ok := Lookup("sample")
	require.True(t, ok)
	require.NoError(t, r(context.Background(), Registries{}))
	assert.True(t, called)

	assert.Contains(t, Names(), "sample")
}

func TestLoader_LoadsActiveExtensionAndConfig(t *testing.T) {
	reset()
	defer reset()

	dir := t.TempDir()
	extDir := filepath.Join(dir, "recon")
	require.NoError(t, os.MkdirAll(extDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extDir, "extra_config.yml"), []byte("api_key: abc123\n"), 0o644))

	var sawConfig map[string]any
	Register("recon", func(ctx context.Context, reg Registries) error {
		return nil
	})

	loader := NewLoader(dir, telemetry.NewNoopLogger())
	require.NoError(t, loader.Load(context.Background(), []string{"recon"}, emptyRegistries(t)))

	sawConfig = loader.ConfigFor("recon")
	require.NotNil(t, sawConfig)
	assert.Equal(t, "abc123", sawConfig["api_key"])
}

func TestLoader_MissingRegistrarDoesNotStopOthers(t *testing.T) {
	reset()
	defer reset()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "known"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "unregistered"), 0o755))

	var loadedKnown bool
	Register("known", func(ctx context.Context, reg Registries) error {
		loadedKnown = true
		return nil
	})

	loader := NewLoader(dir, telemetry.NewNoopLogger())
	err := loader.Load(context.Background(), []string{"unregistered", "known"}, emptyRegistries(t))
	require.NoError(t, err) // Load itself never fails; failures are per-extension and logged
	assert.True(t, loadedKnown)
}

func TestLoader_MissingDirectoryIsNotFatal(t *testing.T) {
	reset()
	defer reset()

	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"), telemetry.NewNoopLogger())
	err := loader.Load(context.Background(), []string{"anything"}, emptyRegistries(t))
	require.NoError(t, err)
}

func TestLoader_RegistrarErrorDoesNotStopOthers(t *testing.T) {
	reset()
	defer reset()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fine"), 0o755))

	Register("broken", func(ctx context.Context, reg Registries) error {
		return assert.AnError
	})
	var fineCalled bool
	Register("fine", func(ctx context.Context, reg Registries) error {
		fineCalled = true
		return nil
	})

	loader := NewLoader(dir, telemetry.NewNoopLogger())
	require.NoError(t, loader.Load(context.Background(), []string{"broken", "fine"}, emptyRegistries(t)))
	assert.True(t, fineCalled)
}
