package builtin

import (
	"context"
	"fmt"

	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/notify"
)

// GithubEventHandler turns GITHUB_PUSH/GITHUB_PR events into a single
// notification message. Grounded on original
// src/handlers/github_events.py's GithubEventHandler, with its
// find_related_asset lookup (a relational-store boundary concern)
// dropped: the notification simply names the repo and what happened.
type GithubEventHandler struct {
	notifier notify.Notifier
}

// NewGithubEventHandlerFactory returns an eventbus.Factory constructing a
// fresh GithubEventHandler per invocation, as eventbus.Bus requires.
func NewGithubEventHandlerFactory(notifier notify.Notifier) eventbus.Factory {
	return func() eventbus.Handler {
		return &GithubEventHandler{notifier: notifier}
	}
}

func (h *GithubEventHandler) Handle(ctx context.Context, trigger eventbus.Trigger, eventCtx map[string]any) (eventbus.Result, error) {
	repoURL, _ := eventCtx["repo_url"].(string)

	var text string
	switch trigger {
	case eventbus.TriggerGithubPush:
		commit, _ := eventCtx["commit"].(map[string]any)
		text = fmt.Sprintf("New push to %s: %s", repoURL, commitSummary(commit))
	case eventbus.TriggerGithubPR:
		pr, _ := eventCtx["pull_request"].(map[string]any)
		text = fmt.Sprintf("Pull request update on %s: %s", repoURL, prSummary(pr))
	default:
		return eventbus.Result{}, fmt.Errorf("github handler: unexpected trigger %q", trigger)
	}

	if err := h.notifier.SendMessage(text); err != nil {
		return eventbus.Result{}, fmt.Errorf("github handler: failed to send notification: %w", err)
	}
	return eventbus.Result{Success: true, Data: text}, nil
}

func commitSummary(commit map[string]any) string {
	if commit == nil {
		return "(no commit data)"
	}
	sha, _ := commit["sha"].(string)
	if len(sha) > 7 {
		sha = sha[:7]
	}
	message := ""
	if commitObj, ok := commit["commit"].(map[string]any); ok {
		message, _ = commitObj["message"].(string)
	}
	return fmt.Sprintf("%s %s", sha, firstLine(message))
}

func prSummary(pr map[string]any) string {
	if pr == nil {
		return "(no pull request data)"
	}
	title, _ := pr["title"].(string)
	state, _ := pr["state"].(string)
	numberF, _ := pr["number"].(float64)
	return fmt.Sprintf("#%d %s (%s)", int(numberF), title, state)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
