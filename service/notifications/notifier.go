package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/sirupsen/logrus"
)

// Directory resolves user contact details.
type Directory interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

var ErrNoDevices = errors.New("user has no registered devices")

// Notifier sends push and email messages to users and records each attempt.
type Notifier struct {
	store  Store
	users  Directory
	pusher Pusher
	mailer Mailer
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewNotifier(store Store, users Directory, pusher Pusher, mailer Mailer, log logrus.FieldLogger) *Notifier {
	return &Notifier{store: store, users: users, pusher: pusher, mailer: mailer, log: log, now: time.Now}
}

// Push sends to every device of userID. Rejected tokens are removed.
func (n *Notifier) Push(ctx context.Context, userID uint, title, body string, data map[string]string) error {
	devices, err := n.store.DevicesForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	if len(devices) == 0 {
		return ErrNoDevices
	}

	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.Token)
	}

	invalid, sendErr := n.pusher.Send(tokens, title, body, data)
	if len(invalid) > 0 {
		if err := n.store.RemoveTokens(ctx, invalid); err != nil {
			n.log.WithError(err).Warn("error cleaning up invalid push tokens")
		}
	}
	n.record(ctx, userID, "push", title, body, data, sendErr)
	return sendErr
}

// Email sends an HTML email to the user's address.
func (n *Notifier) Email(ctx context.Context, userID uint, subject, htmlBody string) error {
	user, err := n.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.Email == "" {
		return errors.New("user has no email address")
	}
	sendErr := n.mailer.Send(user.Email, subject, htmlBody)
	n.record(ctx, userID, "email", subject, htmlBody, nil, sendErr)
	return sendErr
}

func (n *Notifier) record(ctx context.Context, userID uint, channel, title, body string, data map[string]string, sendErr error) {
	entry := &models.NotificationHistory{
		UserID:  userID,
		Channel: channel,
		Title:   title,
		Body:    body,
		Status:  "sent",
		SentAt:  n.now(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			entry.Data = string(raw)
		}
	}
	if sendErr != nil {
		entry.Status = "failed"
	}
	if err := n.store.AddHistory(ctx, entry); err != nil {
		n.log.WithError(err).Warn("error recording notification history")
	}
}
