// Command legion-server is the composition root: it constructs every
// component named in this module (C1-C10 plus the supporting llm/store/
// telemetry/notify packages) from a single YAML configuration document and
// runs them until told to stop. Grounded on
// registry/cmd/registry/main.go's explicit wiring style (no globals, every
// dependency constructed and threaded by hand) and original src/server.py's
// startup sequence (stores, event bus + built-in handlers, action registry
// + built-in actions, watcher manager + webhook server, scheduler, planner).
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/builtin"
	"github.com/muellerberndt/legion-core/config"
	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/extension"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/job/engine/inmem"
	temporalengine "github.com/muellerberndt/legion-core/job/engine/temporal"
	"github.com/muellerberndt/legion-core/llm"
	"github.com/muellerberndt/legion-core/notify"
	"github.com/muellerberndt/legion-core/planner"
	"github.com/muellerberndt/legion-core/scheduler"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
	"github.com/muellerberndt/legion-core/webhook"
)

// plannerSystemPrompt is the system prompt issued with every planner
// invocation, grounded on original src/ai/autobot.py's system prompt
// (role framing, command-catalog + history context, final-answer
// sentinel instruction).
const plannerSystemPrompt = `You are Legion, an autonomous agent assisting with web3 security research.
You have access to a catalog of commands describing the actions you can take.
At each step, decide whether to invoke a command or provide a final answer to the user.
Respond with a single JSON object describing your plan, following the schema you were given.`

// webhookAdapter adapts a watcher.WebhookHandlerFunc (body in, status/body
// out) to webhook.Handler (full *http.Request in), reading the request
// body and enforcing the JSON content-type contract the webhook server
// requires of every registered handler.
func webhookAdapter(handler watcher.WebhookHandlerFunc) webhook.Handler {
	return webhook.HandlerFunc(func(ctx context.Context, r *http.Request) (int, []byte, error) {
		body, err := webhook.RequireJSON(r)
		if err != nil {
			return http.StatusBadRequest, []byte(err.Error()), nil
		}
		return handler(ctx, body)
	})
}

// serverDeps gathers every external connection (storage, Temporal, Redis)
// the app needs to close on shutdown.
type serverDeps struct {
	mongoClient    *mongo.Client
	temporalClient temporalclient.Client
	temporalWorker worker.Worker
}

// App is every constructed component, ready to Start/Stop as a unit.
type App struct {
	cfg        config.Config
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	actions    *action.Registry
	jobs       *job.Manager
	bus        *eventbus.Bus
	watchers   *watcher.Manager
	webhookSrv *webhook.Server
	sched      *scheduler.Scheduler
	llmClient  llm.Client
	planner    *planner.Planner
	loader     *extension.Loader
	notifier   notify.Notifier
	deps       serverDeps
}

// buildOptions carries the values the CLI layer collects from flags/env
// that aren't part of the persisted YAML document (API keys in particular
// should not round-trip through a config file committed to disk).
type buildOptions struct {
	anthropicAPIKey  string
	useTemporal      bool
	temporalHostPort string
	temporalNS       string
}

// Build constructs every component from cfg, wiring them together exactly
// as the composition root must: stores first, then the event bus and
// built-in handlers, then the action registry and built-ins, then the
// watcher manager and webhook server, then the scheduler, then the LLM
// planner and extension loader.
func Build(ctx context.Context, cfg config.Config, opts buildOptions) (*App, error) {
	logger := telemetry.NewClueLogger(ctx)
	metrics := telemetry.NewOtelMetrics()

	jobStore, eventLogStore, checkpointStore, scheduledStore, notificationStore, deps, err := buildStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier
	switch cfg.Notify.Backend {
	case "redis":
		if cfg.Notify.RedisAddr == "" {
			return nil, fmt.Errorf("legion-server: notify.backend=redis requires notify.redis_addr")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Notify.RedisAddr})
		key := cfg.Notify.RedisKey
		if key == "" {
			key = "legion:notifications"
		}
		notifier = notify.NewRedisQueue(rdb, key, logger)
	default:
		notifier = notify.NewStoreNotifier(notificationStore, logger)
	}

	engine, err := buildJobEngine(opts, &deps)
	if err != nil {
		return nil, err
	}
	jobs := job.New(jobStore, notifier, engine, logger, metrics)

	bus := eventbus.New(eventLogStore, logger, metrics)
	actions := action.New()
	watchers := watcher.New(jobs, bus, logger)

	githubCfg := builtin.GitHubWatcherConfig{
		APIToken:     cfg.GitHub.Token,
		Repos:        cfg.GitHub.Repos,
		PollInterval: minutesOrDefault(cfg.GitHub.PollMinutes),
	}
	if err := builtin.Register(actions, jobs, watchers, bus, checkpointStore, notifier, githubCfg, logger); err != nil {
		return nil, fmt.Errorf("legion-server: failed to register built-ins: %w", err)
	}

	webhookSrv := webhook.New(logger, webhook.WithMetricsEndpoint(telemetry.MetricsHandler()))

	sched := scheduler.New(actions, scheduledStore, logger, func(name string) bool {
		_, _, ok := actions.Get(name)
		return ok
	})
	sched.LoadConfig(ctx, cfg.ScheduledActions)

	var llmClient llm.Client
	var plan *planner.Planner
	if opts.anthropicAPIKey != "" {
		model := cfg.LLM.Model
		if model == "" {
			model = string(anthropic.ModelClaude3_7SonnetLatest)
		}
		llmClient = llm.NewAnthropicClient(opts.anthropicAPIKey, anthropic.Model(model))
		plan = planner.New(llmClient, actions, jobs, actions.Commands(nil), plannerSystemPrompt, logger,
			planner.WithMaxSteps(cfg.LLM.MaxSteps),
			planner.WithTimeout(secondsOrDefault(cfg.LLM.TimeoutS)))
	} else {
		logger.Warn("legion-server: no Anthropic API key configured, the LLM planner is disabled")
	}

	loader := extension.NewLoader(cfg.ExtensionsDir, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		actions:    actions,
		jobs:       jobs,
		bus:        bus,
		watchers:   watchers,
		webhookSrv: webhookSrv,
		sched:      sched,
		llmClient:  llmClient,
		planner:    plan,
		loader:     loader,
		notifier:   notifier,
		deps:       deps,
	}, nil
}

func buildStores(ctx context.Context, cfg config.Config) (store.JobStore, store.EventLogStore, store.CheckpointStore, store.ScheduledActionStore, store.NotificationStore, serverDeps, error) {
	var (
		jobStore          store.JobStore = store.NewMemoryJobStore()
		eventLogStore     store.EventLogStore = store.NewMemoryEventLogStore()
		scheduledStore    store.ScheduledActionStore = store.NewMemoryScheduledActionStore()
		notificationStore store.NotificationStore = store.NewMemoryNotificationStore()
		deps              serverDeps
	)

	if cfg.Storage.Backend == "mongo" {
		if cfg.Storage.MongoURI == "" {
			return nil, nil, nil, nil, nil, serverDeps{}, fmt.Errorf("legion-server: storage.backend=mongo requires storage.mongo_uri")
		}
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Storage.MongoURI))
		if err != nil {
			return nil, nil, nil, nil, nil, serverDeps{}, fmt.Errorf("legion-server: failed to connect to MongoDB: %w", err)
		}
		dbName := cfg.Storage.MongoDatabase
		if dbName == "" {
			dbName = "legion"
		}
		db := client.Database(dbName)

		jobStore = store.NewMongoJobStore(db.Collection("jobs"))
		eventLogStore = store.NewMongoEventLogStore(db.Collection("event_log"))
		notificationStore = store.NewMongoNotificationStore(db.Collection("notifications"))
		deps.mongoClient = client
	}

	checkpointStore, err := buildCheckpointStore(cfg, &deps)
	if err != nil {
		return nil, nil, nil, nil, nil, serverDeps{}, err
	}

	return jobStore, eventLogStore, checkpointStore, scheduledStore, notificationStore, deps, nil
}

// buildCheckpointStore selects the watcher-checkpoint backend independently
// of the rest of storage: "memory" (default), "mongo" (reuses deps'
// already-dialed client, dialing one of its own if storage.backend isn't
// already mongo), or "redis".
func buildCheckpointStore(cfg config.Config, deps *serverDeps) (store.CheckpointStore, error) {
	switch cfg.Storage.CheckpointBackend {
	case "redis":
		if cfg.Storage.CheckpointRedisAddr == "" {
			return nil, fmt.Errorf("legion-server: storage.checkpoint_backend=redis requires storage.checkpoint_redis_addr")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.CheckpointRedisAddr})
		return store.NewRedisCheckpointStore(rdb, "legion:checkpoints"), nil
	case "mongo":
		if deps.mongoClient == nil {
			if cfg.Storage.MongoURI == "" {
				return nil, fmt.Errorf("legion-server: storage.checkpoint_backend=mongo requires storage.mongo_uri")
			}
			client, err := mongo.Connect(options.Client().ApplyURI(cfg.Storage.MongoURI))
			if err != nil {
				return nil, fmt.Errorf("legion-server: failed to connect to MongoDB: %w", err)
			}
			deps.mongoClient = client
		}
		dbName := cfg.Storage.MongoDatabase
		if dbName == "" {
			dbName = "legion"
		}
		return store.NewMongoCheckpointStore(deps.mongoClient.Database(dbName).Collection("checkpoints")), nil
	default:
		return store.NewMemoryCheckpointStore(), nil
	}
}

func buildJobEngine(opts buildOptions, deps *serverDeps) (job.Engine, error) {
	if !opts.useTemporal {
		return inmem.New(), nil
	}

	c, err := temporalclient.Dial(temporalclient.Options{HostPort: opts.temporalHostPort, Namespace: opts.temporalNS})
	if err != nil {
		return nil, fmt.Errorf("legion-server: failed to dial Temporal at %s: %w", opts.temporalHostPort, err)
	}
	w := worker.New(c, temporalengine.TaskQueue, worker.Options{})
	temporalengine.RegisterWith(w)
	if err := w.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("legion-server: failed to start Temporal worker: %w", err)
	}

	deps.temporalClient = c
	deps.temporalWorker = w
	return temporalengine.New(c), nil
}

func minutesOrDefault(m int) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m) * time.Minute
}

func secondsOrDefault(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// Start loads the active extensions, then brings up the watchers, the
// webhook server, and the scheduler. It does not start the extension
// loader's live config watch (Loader.Watch). It returns once
// every subsystem has been asked to start; long-running work continues on
// background goroutines each subsystem already owns.
func (a *App) Start(ctx context.Context) error {
	if err := a.loader.Load(ctx, a.cfg.ActiveExtensions, extension.Registries{Actions: a.actions, Events: a.bus, Watchers: a.watchers}); err != nil {
		return fmt.Errorf("legion-server: failed to load extensions: %w", err)
	}

	if err := a.watchers.Start(ctx, a.cfg.ActiveWatchers, func(path string, handler watcher.WebhookHandlerFunc) {
		a.webhookSrv.RegisterHandler(path, webhookAdapter(handler))
	}); err != nil {
		return fmt.Errorf("legion-server: failed to start watchers: %w", err)
	}

	if err := a.webhookSrv.Start(a.cfg.WebhookPort); err != nil {
		return fmt.Errorf("legion-server: failed to start webhook server: %w", err)
	}

	a.sched.Start()
	a.logger.Info("legion-server: started", telemetry.F("webhook_port", a.cfg.WebhookPort))
	return nil
}

// Stop shuts down the scheduler, then the watchers, then the webhook
// server, then any extension config watch, and releases external
// connections.
func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop()
	if err := a.watchers.Stop(ctx); err != nil {
		a.logger.Error("legion-server: error stopping watchers", telemetry.F("error", err.Error()))
	}
	if err := a.webhookSrv.Stop(ctx); err != nil {
		a.logger.Error("legion-server: error stopping webhook server", telemetry.F("error", err.Error()))
	}
	_ = a.loader.StopWatch()

	if a.deps.temporalWorker != nil {
		a.deps.temporalWorker.Stop()
	}
	if a.deps.temporalClient != nil {
		a.deps.temporalClient.Close()
	}
	if a.deps.mongoClient != nil {
		if err := a.deps.mongoClient.Disconnect(ctx); err != nil {
			a.logger.Error("legion-server: error disconnecting MongoDB", telemetry.F("error", err.Error()))
		}
	}
	a.logger.Info("legion-server: stopped")
	return nil
}
