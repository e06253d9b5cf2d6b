package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/config"
)

const sampleYAML = `
webhook_port: 9090
active_watchers:
  - github
  - quicknode
scheduled_actions:
  nightly_scan:
    command: "scan target=0xabc"
    interval_minutes: 60
    enabled: true
extensions_dir: ./extensions
active_extensions:
  - recon
llm:
  model: claude-3-7-sonnet-latest
  max_steps: 5
  timeout_seconds: 120
`

func TestParse_PopulatesAllFields(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.WebhookPort)
	assert.Equal(t, []string{"github", "quicknode"}, cfg.ActiveWatchers)
	require.Contains(t, cfg.ScheduledActions, "nightly_scan")
	assert.Equal(t, 60, cfg.ScheduledActions["nightly_scan"].IntervalMinutes)
	assert.True(t, cfg.ScheduledActions["nightly_scan"].Enabled)
	assert.Equal(t, "./extensions", cfg.ExtensionsDir)
	assert.Equal(t, []string{"recon"}, cfg.ActiveExtensions)
	assert.Equal(t, 5, cfg.LLM.MaxSteps)
}

func TestParse_AppliesDefaultsForOmittedFields(t *testing.T) {
	cfg, err := config.Parse([]byte("webhook_port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.WebhookPort)
	assert.Equal(t, "extensions", cfg.ExtensionsDir)
	assert.Equal(t, 10, cfg.LLM.MaxSteps)
	assert.Equal(t, 300, cfg.LLM.TimeoutS)
}

func TestLoad_ReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legion.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.WebhookPort)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositivePort(t *testing.T) {
	cfg, err := config.Parse([]byte("webhook_port: -1\n"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveScheduleInterval(t *testing.T) {
	cfg, err := config.Parse([]byte(`
webhook_port: 8080
scheduled_actions:
  bad:
    command: "known"
    interval_minutes: 0
    enabled: true
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
