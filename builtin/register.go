package builtin

import (
	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/notify"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
)

// Register installs every built-in action, watcher, and event handler into
// the given component registries. It is the single call site a composition
// root needs for everything this package provides; extensions register
// themselves separately through the extension package.
func Register(reg *action.Registry, jobs *job.Manager, watchers *watcher.Manager, bus *eventbus.Bus, checkpoints store.CheckpointStore, notifier notify.Notifier, githubCfg GitHubWatcherConfig, logger telemetry.Logger) error {
	if err := RegisterActions(reg, jobs, watchers); err != nil {
		return err
	}

	watchers.Register("quicknode", func() watcher.Watcher {
		return NewQuicknodeWatcher(bus)
	})
	watchers.Register("github", func() watcher.Watcher {
		return NewGitHubWatcher(githubCfg, bus, checkpoints, logger)
	})

	bus.Subscribe("github_event_handler", NewGithubEventHandlerFactory(notifier),
		eventbus.TriggerGithubPush, eventbus.TriggerGithubPR)

	return nil
}
