package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
	"github.com/muellerberndt/legion-core/watcher"
)

const defaultGithubPollInterval = time.Hour

// GitHubWatcherConfig configures GitHubWatcher. Repos are "owner/name"
// strings; ownership of which repositories belong to which tracked
// project is a relational-store boundary concern in the original
// (assets/projects tables) and is out of scope here (spec §1
// Non-goals) — this watcher simply polls whatever Repos lists.
type GitHubWatcherConfig struct {
	APIToken     string
	Repos        []string
	PollInterval time.Duration
}

// GitHubWatcher polls the GitHub REST API for new commits and updated
// pull requests on a configured repository list, publishing
// GITHUB_PUSH/GITHUB_PR events. Grounded on original
// src/watchers/github.py's GitHubWatcher (session-per-watcher HTTP
// client, commit/PR diffing against a persisted last_commit_sha/
// last_pr_number checkpoint), with the asset/project scope-discovery
// query (a relational-store boundary concern) replaced by a configured
// repository list.
type GitHubWatcher struct {
	cfg         GitHubWatcherConfig
	bus         *eventbus.Bus
	checkpoints store.CheckpointStore
	logger      telemetry.Logger
	client      *http.Client

	// apiBaseURL defaults to the real GitHub API and is only overridden by
	// tests, to point it at an httptest server instead of the network.
	apiBaseURL string
}

const githubAPIBaseURL = "https://api.github.com"

// NewGitHubWatcher constructs a GitHubWatcher.
func NewGitHubWatcher(cfg GitHubWatcherConfig, bus *eventbus.Bus, checkpoints store.CheckpointStore, logger telemetry.Logger) *GitHubWatcher {
	return &GitHubWatcher{cfg: cfg, bus: bus, checkpoints: checkpoints, logger: logger, apiBaseURL: githubAPIBaseURL}
}

func (w *GitHubWatcher) Name() string { return "github" }

// RegisterRoutes wires the /webhooks/github path, letting a code host push
// GITHUB_PUSH/GITHUB_PR events directly instead of waiting for this
// watcher's next poll cycle.
func (w *GitHubWatcher) RegisterRoutes(register func(path string, handler watcher.WebhookHandlerFunc)) {
	register("github", w.handleWebhook)
}

// githubWebhookBody covers the two shapes the dispatcher disambiguates
// between: {pull_request: {...}, repo_url} and {commit: {...}, repo_url}.
type githubWebhookBody struct {
	RepoURL     string         `json:"repo_url"`
	Commit      map[string]any `json:"commit"`
	PullRequest map[string]any `json:"pull_request"`
}

// handleWebhook infers GITHUB_PUSH vs GITHUB_PR from body shape (a
// "pull_request" key takes precedence over a "commit" key if a caller
// somehow sends both) and passes repo_url through into the event context
// unchanged, mirroring this same watcher's poll-driven events.
func (w *GitHubWatcher) handleWebhook(ctx context.Context, body []byte) (int, []byte, error) {
	var payload githubWebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return 400, []byte(fmt.Sprintf("github webhook: invalid JSON body: %s", err.Error())), nil
	}

	switch {
	case payload.PullRequest != nil:
		w.bus.Publish(ctx, eventbus.TriggerGithubPR, map[string]any{
			"repo_url":     payload.RepoURL,
			"pull_request": payload.PullRequest,
		})
	case payload.Commit != nil:
		w.bus.Publish(ctx, eventbus.TriggerGithubPush, map[string]any{
			"repo_url": payload.RepoURL,
			"commit":   payload.Commit,
		})
	default:
		return 400, []byte(`github webhook: body must contain either "commit" or "pull_request"`), nil
	}
	return 200, []byte("OK"), nil
}

func (w *GitHubWatcher) Interval() time.Duration {
	if w.cfg.PollInterval <= 0 {
		return defaultGithubPollInterval
	}
	return w.cfg.PollInterval
}

// Initialize constructs the HTTP client, wrapping the default transport
// with otelhttp so every outbound GitHub API call produces a span and
// request metrics the way the rest of this module's network calls do.
func (w *GitHubWatcher) Initialize(ctx context.Context) error {
	w.client = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   30 * time.Second,
	}
	if w.cfg.APIToken == "" {
		w.logger.Warn("github watcher: no API token configured, rate limits will be strict")
	}
	return nil
}

// Check polls every configured repository for new commits and PRs since
// its last checkpoint, applying a per-cycle timeout no longer than the
// poll interval (spec §5).
func (w *GitHubWatcher) Check(ctx context.Context) ([]watcher.Event, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, w.Interval())
	defer cancel()

	var events []watcher.Event
	for _, repo := range w.cfg.Repos {
		repoEvents, err := w.checkRepo(cycleCtx, repo)
		if err != nil {
			w.logger.Error("github watcher: failed to check repo", telemetry.F("repo", repo), telemetry.F("error", err.Error()))
			continue
		}
		events = append(events, repoEvents...)
	}
	return events, nil
}

func (w *GitHubWatcher) checkRepo(ctx context.Context, repo string) ([]watcher.Event, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("invalid repo %q, expected owner/name", repo)
	}

	cp, err := watcher.LoadCheckpoint(ctx, w.checkpoints, w.Name(), repo)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("github watcher: failed to load checkpoint: %w", err)
	}

	var lastSHA string
	lastPR := 0
	if cp.State != nil {
		lastSHA, _ = cp.State["last_commit_sha"].(string)
		if v, ok := cp.State["last_pr_number"].(float64); ok {
			lastPR = int(v)
		}
	}

	commits, err := w.fetchCommits(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	prs, err := w.fetchPRs(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	// GitHub's commits API returns newest-first; publish oldest-to-newest
	// so consumers see pushes in the order they actually happened, but
	// the new checkpoint always tracks commits[0] (the newest).
	var events []watcher.Event
	newestSHA := lastSHA
	if len(commits) > 0 {
		newestSHA, _ = commits[0]["sha"].(string)
	}
	unseen := len(commits)
	for i, commit := range commits {
		if sha, _ := commit["sha"].(string); sha == lastSHA {
			unseen = i
			break
		}
	}
	for i := unseen - 1; i >= 0; i-- {
		commit := commits[i]
		events = append(events, watcher.Event{
			Trigger: eventbus.TriggerGithubPush,
			Data:    map[string]any{"repo_url": fmt.Sprintf("https://github.com/%s", repo), "commit": commit},
		})
	}

	newestPR := lastPR
	for _, pr := range prs {
		numF, _ := pr["number"].(float64)
		num := int(numF)
		if num > lastPR {
			events = append(events, watcher.Event{
				Trigger: eventbus.TriggerGithubPR,
				Data:    map[string]any{"repo_url": fmt.Sprintf("https://github.com/%s", repo), "pull_request": pr},
			})
			if num > newestPR {
				newestPR = num
			}
		}
	}

	if newestSHA != lastSHA || newestPR != lastPR {
		if err := watcher.SaveCheckpoint(ctx, w.checkpoints, w.Name(), repo, map[string]any{
			"last_commit_sha": newestSHA,
			"last_pr_number":  newestPR,
		}); err != nil {
			w.logger.Error("github watcher: failed to save checkpoint", telemetry.F("repo", repo), telemetry.F("error", err.Error()))
		}
	}

	return events, nil
}

func (w *GitHubWatcher) apiGet(ctx context.Context, url string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if w.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github watcher: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("github watcher: repository not found")
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("github watcher: rate limited or unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github watcher: unexpected status %d", resp.StatusCode)
	}

	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("github watcher: failed to decode response: %w", err)
	}
	return out, nil
}

func (w *GitHubWatcher) fetchCommits(ctx context.Context, owner, name string) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits", w.apiBaseURL, owner, name)
	return w.apiGet(ctx, url)
}

func (w *GitHubWatcher) fetchPRs(ctx context.Context, owner, name string) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls?state=all&sort=updated&direction=desc", w.apiBaseURL, owner, name)
	return w.apiGet(ctx, url)
}
