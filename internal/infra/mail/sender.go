package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/infra/logger"
)

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender records deliveries without the message body.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{logger: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail delivered",
		zap.String("message_id", msg.ID),
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)),
	)
	return nil
}
