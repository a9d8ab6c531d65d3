package identity

import (
	"context"

	"go.uber.org/zap"
)

// Action purposes for one-time codes and their emails.
const (
	PurposePasswordReset     = "password_reset"
	PurposeEmailVerification = "email_verification"
)

// Message is an outbound account email.
type Message struct {
	To        string
	Purpose   string
	Subject   string
	ActionURL string
	Code      string
}

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// LogMailer writes messages to the log instead of delivering them.
// Action links carry one-time codes and are logged at debug level only.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer.
func (mailer *LogMailer) Send(ctx context.Context, message Message) error {
	mailer.logger.Info("account email",
		zap.String("code", "identity.mail."+message.Purpose),
		zap.String("to", message.To),
		zap.String("subject", message.Subject))
	mailer.logger.Debug("account email action",
		zap.String("code", "identity.mail."+message.Purpose),
		zap.String("to", message.To),
		zap.String("action_url", message.ActionURL))
	return nil
}
