package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them. Used in
// development and tests; never configure it in production since MFA codes
// would land in the logs.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.InfoContext(ctx, "outbound message",
		"id", msg.ID,
		"channel", string(msg.Channel),
		"destination", msg.Destination,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
