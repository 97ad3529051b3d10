// Package notify is the boundary to outbound email delivery.
package notify

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DeletionConfirmation is the content of an account deletion confirmation mail.
type DeletionConfirmation struct {
	To        string
	Username  string
	Link      string
	ExpiresAt time.Time
}

// Mailer sends confirmation mails. Delivery itself lives outside datagate.
type Mailer interface {
	SendDeletionConfirmation(ctx context.Context, m DeletionConfirmation) error
}

// LogMailer writes mails to the log instead of sending them.
type LogMailer struct {
	log *zap.Logger
}

var _ Mailer = (*LogMailer)(nil)

// NewLogMailer constructs a LogMailer.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

// SendDeletionConfirmation logs the mail.
func (m *LogMailer) SendDeletionConfirmation(_ context.Context, c DeletionConfirmation) error {
	m.log.Info("deletion confirmation",
		zap.String("to", c.To),
		zap.String("username", c.Username),
		zap.String("link", c.Link),
		zap.Time("expires_at", c.ExpiresAt))
	return nil
}

// ConfirmationLink appends the principal and token as query parameters to base.
func ConfirmationLink(base, principalID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("principal", principalID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
