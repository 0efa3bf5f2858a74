package outbox

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// LogSink publishes notifications as structured log entries.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.L()
	}
	return &LogSink{logger: logger.With(zap.String("component", "notifications"))}
}

func (s *LogSink) Publish(_ context.Context, msg Message) error {
	s.logger.Info(msg.Topic,
		zap.String("id", msg.ID.String()),
		zap.Uint64("claim_id", msg.ClaimID),
		zap.String("actor", msg.Actor),
		zap.Any("payload", json.RawMessage(msg.Payload)),
		zap.Time("created_at", msg.CreatedAt),
	)
	return nil
}
