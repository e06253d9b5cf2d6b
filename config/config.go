// Package config loads legion-core's top-level YAML configuration: the
// webhook server port, the active watcher allowlist, the scheduled action
// catalog, and the extension loader's directory and active-extension
// list. Every subsystem-specific shape (scheduler.Config, extension
// overlays) is declared where that subsystem lives; this package only
// owns the document that ties them together at startup, grounded on the
// teacher's flat YAML-via-gopkg.in/yaml.v3 configuration style.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/muellerberndt/legion-core/scheduler"
)

// Config is the root configuration document read from legion.yml (or
// whatever path the caller supplies).
type Config struct {
	// WebhookPort is the port the webhook server (C6) binds.
	WebhookPort int `yaml:"webhook_port"`

	// ActiveWatchers lists the watcher names (C5) to construct and start
	// at server start, matching watcher.Manager.Start's allowlist.
	ActiveWatchers []string `yaml:"active_watchers"`

	// ScheduledActions configures the scheduler (C7): name -> action spec.
	ScheduledActions map[string]scheduler.Config `yaml:"scheduled_actions"`

	// ExtensionsDir is the directory the extension loader (C9) scans.
	ExtensionsDir string `yaml:"extensions_dir"`

	// ActiveExtensions lists the extension subdirectory names to load.
	ActiveExtensions []string `yaml:"active_extensions"`

	// LLM configures the planner's model provider (C8).
	LLM LLMConfig `yaml:"llm"`

	// GitHub configures the built-in GitHub watcher, when "github" is
	// listed in ActiveWatchers.
	GitHub GitHubConfig `yaml:"github"`

	// Storage selects the persistence backend for jobs, event logs,
	// checkpoints, and notifications.
	Storage StorageConfig `yaml:"storage"`

	// Notify selects where outbound notifications are delivered.
	Notify NotifyConfig `yaml:"notify"`
}

// GitHubConfig configures the built-in GitHub watcher (C5/builtin).
type GitHubConfig struct {
	Token       string   `yaml:"token"`
	Repos       []string `yaml:"repos"`
	PollMinutes int      `yaml:"poll_minutes"`
}

// StorageConfig selects and configures the persistence backend. Backend
// is "memory" (default) or "mongo"; MongoURI/MongoDatabase are required
// when Backend is "mongo". CheckpointBackend independently selects where
// watcher checkpoints (C5) are persisted: "memory" (default), "mongo" (uses
// MongoURI/MongoDatabase, sharing Backend's Mongo connection when Backend is
// also "mongo"), or "redis" (requires
// CheckpointRedisAddr) for deployments that already run Redis for
// notifications and would rather not stand up Mongo just for checkpoints.
type StorageConfig struct {
	Backend             string `yaml:"backend"`
	MongoURI            string `yaml:"mongo_uri"`
	MongoDatabase       string `yaml:"mongo_database"`
	CheckpointBackend   string `yaml:"checkpoint_backend"`
	CheckpointRedisAddr string `yaml:"checkpoint_redis_addr"`
}

// NotifyConfig selects and configures the notification fan-out backend.
// Backend is "store" (default, persisted via the Storage backend above)
// or "redis".
type NotifyConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

// LLMConfig configures the Anthropic-backed planner client.
type LLMConfig struct {
	Model    string `yaml:"model"`
	MaxSteps int    `yaml:"max_steps"`
	TimeoutS int    `yaml:"timeout_seconds"`
}

// defaults applied when the document omits a field entirely, matching the
// same defaults the individual subsystems already fall back to on their
// own (spec §4.7, §4.8): config merely needs to avoid silently zeroing
// values a subsystem would otherwise default sensibly.
func (c *Config) applyDefaults() {
	if c.WebhookPort == 0 {
		c.WebhookPort = 8080
	}
	if c.ExtensionsDir == "" {
		c.ExtensionsDir = "extensions"
	}
	if c.LLM.MaxSteps == 0 {
		c.LLM.MaxSteps = 10
	}
	if c.LLM.TimeoutS == 0 {
		c.LLM.TimeoutS = 300
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.CheckpointBackend == "" {
		c.Storage.CheckpointBackend = "memory"
	}
	if c.Notify.Backend == "" {
		c.Notify.Backend = "store"
	}
}

// Load reads and parses the configuration document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a configuration document already read into memory,
// applying defaults for any omitted field.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse YAML: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate reports any structurally invalid configuration: a
// non-positive webhook port, or a scheduled action with a non-positive
// interval. It does not check that scheduled action commands refer to a
// registered action — that check happens at schedule time against the
// live action registry (spec §3 invariant: "Scheduler will not schedule
// an unknown action").
func (c Config) Validate() error {
	if c.WebhookPort <= 0 {
		return fmt.Errorf("config: webhook_port must be positive, got %d", c.WebhookPort)
	}
	for name, sa := range c.ScheduledActions {
		if sa.IntervalMinutes <= 0 {
			return fmt.Errorf("config: scheduled action %q must have a positive interval_minutes, got %d", name, sa.IntervalMinutes)
		}
	}
	return nil
}
