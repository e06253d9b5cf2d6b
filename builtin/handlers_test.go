package builtin_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/builtin"
	"github.com/muellerberndt/legion-core/eventbus"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	failNext bool
}

func (n *recordingNotifier) SendMessage(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failNext {
		return errors.New("boom")
	}
	n.messages = append(n.messages, text)
	return nil
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

func TestGithubEventHandler_PushEventProducesNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	handler := builtin.NewGithubEventHandlerFactory(notifier)()

	result, err := handler.Handle(context.Background(), eventbus.TriggerGithubPush, map[string]any{
		"repo_url": "https://github.com/acme/widget",
		"commit": map[string]any{
			"sha":    "abcdef1234567890",
			"commit": map[string]any{"message": "Fix bug\n\nlonger body"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, notifier.last(), "acme/widget")
	assert.Contains(t, notifier.last(), "abcdef1")
	assert.Contains(t, notifier.last(), "Fix bug")
	assert.NotContains(t, notifier.last(), "longer body")
}

func TestGithubEventHandler_PRFEventProducesNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	handler := builtin.NewGithubEventHandlerFactory(notifier)()

	result, err := handler.Handle(context.Background(), eventbus.TriggerGithubPR, map[string]any{
		"repo_url": "https://github.com/acme/widget",
		"pull_request": map[string]any{
			"number": float64(42),
			"title":  "Add feature",
			"state":  "open",
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, notifier.last(), "#42")
	assert.Contains(t, notifier.last(), "Add feature")
}

func TestGithubEventHandler_NotifierErrorIsWrapped(t *testing.T) {
	notifier := &recordingNotifier{failNext: true}
	handler := builtin.NewGithubEventHandlerFactory(notifier)()

	_, err := handler.Handle(context.Background(), eventbus.TriggerGithubPush, map[string]any{
		"repo_url": "https://github.com/acme/widget",
	})
	assert.Error(t, err)
}

func TestGithubEventHandler_UnexpectedTriggerErrors(t *testing.T) {
	notifier := &recordingNotifier{}
	handler := builtin.NewGithubEventHandlerFactory(notifier)()

	_, err := handler.Handle(context.Background(), eventbus.TriggerNewAsset, map[string]any{})
	assert.Error(t, err)
}
