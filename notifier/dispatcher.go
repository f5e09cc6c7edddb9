package notifier

import (
	"context"
	"time"

	"cityfix-analyze-pipeline/metrics"
	"cityfix-analyze-pipeline/models"

	"github.com/apex/log"
)

// Store persists notification records.
type Store interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	GetUserEmail(ctx context.Context, userID string) (string, error)
	IsEmailOptedOut(ctx context.Context, email string) (bool, error)
}

// EmailSender delivers a notification over email. Implementations are
// best-effort; errors are logged by the dispatcher and never retried.
type EmailSender interface {
	SendNotification(recipient string, n *models.Notification) error
}

// Dispatcher turns report status transitions into persisted
// notifications, with an optional email channel.
type Dispatcher struct {
	store Store
	email EmailSender
	now   func() time.Time
}

// NewDispatcher creates a Dispatcher. email may be nil to disable the
// email channel.
func NewDispatcher(store Store, email EmailSender) *Dispatcher {
	return &Dispatcher{
		store: store,
		email: email,
		now:   time.Now,
	}
}

// HandleStatusChange reacts to a report-update event. It creates at
// most one notification, only when the status field actually changed.
// The status change itself is owned by another collaborator, so
// persistence failures here are logged and swallowed, never rolled
// back or retried.
func (d *Dispatcher) HandleStatusChange(ctx context.Context, before, after models.Report) {
	content := Transition(before.Status, after.Status)
	if content == nil {
		return
	}

	userID := after.UserID
	if userID == "" {
		userID = models.AnonymousUserID
	}

	notification := &models.Notification{
		UserID:    userID,
		ReportID:  after.ID,
		Type:      content.Type,
		Title:     content.Title,
		Message:   content.Message,
		Read:      false,
		CreatedAt: d.now(),
	}

	if err := d.store.SaveNotification(ctx, notification); err != nil {
		log.WithError(err).Errorf("Failed to save %s notification for report %s", content.Type, after.ID)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(content.Type)).Inc()
	log.Infof("Notification created for report %s: %s -> %s (%s)", after.ID, before.Status, after.Status, content.Type)

	d.sendEmail(ctx, notification)
}

// sendEmail delivers the notification by email when the owner has an
// address on file and has not opted out.
func (d *Dispatcher) sendEmail(ctx context.Context, n *models.Notification) {
	if d.email == nil || n.UserID == models.AnonymousUserID {
		return
	}

	address, err := d.store.GetUserEmail(ctx, n.UserID)
	if err != nil {
		log.WithError(err).Warnf("Skipping notification email for user %s: lookup failed", n.UserID)
		return
	}
	if address == "" {
		return
	}

	optedOut, err := d.store.IsEmailOptedOut(ctx, address)
	if err != nil {
		log.WithError(err).Warnf("Skipping notification email to %s: opt-out check failed", address)
		return
	}
	if optedOut {
		log.Infof("Skipping notification email to %s: opted out", address)
		return
	}

	if err := d.email.SendNotification(address, n); err != nil {
		log.WithError(err).Warnf("Failed to send notification email to %s", address)
	}
}
