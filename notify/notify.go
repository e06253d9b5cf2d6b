// Package notify implements the notification fan-out (C10): a small
// polymorphic "send this text somewhere" interface that the job manager
// and event handlers depend on instead of any concrete transport.
//
// Grounded on original src/services/notification_service.py's
// NotificationService abstract base (send_message(text)) and its two
// concrete subclasses, db_notification_service.py (persisted queue) and
// the chat-transport sender referenced alongside it; recast from the
// Python ABC + get_instance() singleton onto a plain interface with two
// constructed implementations, per spec §9's "explicit lifecycle object"
// guidance.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/muellerberndt/legion-core/store"
	"github.com/muellerberndt/legion-core/telemetry"
)

// Notifier is the interface the job manager (package job) and event
// handlers depend on. It matches job.Notifier structurally so neither
// package needs to import the other.
type Notifier interface {
	SendMessage(text string) error
}

// StoreNotifier persists every message to an append-only NotificationStore,
// the Go counterpart of DatabaseNotificationService. Empty or whitespace-
// only messages are silently skipped, matching the original's behavior.
type StoreNotifier struct {
	store  store.NotificationStore
	logger telemetry.Logger
}

// NewStoreNotifier constructs a StoreNotifier over the given store.
func NewStoreNotifier(s store.NotificationStore, logger telemetry.Logger) *StoreNotifier {
	return &StoreNotifier{store: s, logger: logger}
}

// SendMessage appends message to the store. It uses context.Background
// internally since Notifier's interface is synchronous and
// context-free, matching how job.Manager and eventbus handlers invoke it
// today; a future revision could thread a caller context through if a
// concrete Notifier needs per-call cancellation.
func (n *StoreNotifier) SendMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		n.logger.Debug("notify: skipping empty message")
		return nil
	}
	rec := store.NotificationRecord{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := n.store.Append(context.Background(), rec); err != nil {
		return fmt.Errorf("notify: failed to persist notification: %w", err)
	}
	preview := message
	if len(preview) > 50 {
		preview = preview[:50]
	}
	n.logger.Info("notify: notification saved", telemetry.F("preview", preview))
	return nil
}
