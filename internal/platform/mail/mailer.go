package mail

import (
	"context"
	"log/slog"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional email. The real delivery service lives in a
// separate subsystem; this interface is the seam it plugs into.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them. It stands
// in for dev runs and anywhere delivery is out of scope.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info("mail delivered to log", "to", msg.To, "subject", msg.Subject)
	return nil
}
