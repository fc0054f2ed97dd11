package notify

import (
	"context"
	"log/slog"
)

// LogSink is the fallback when no push provider is configured: sends are
// logged and reported successful. Useful in development and in tests.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, target, title, body string, metadata map[string]string) error {
	s.logger.Info("notification (log sink)",
		"target", target,
		"title", title,
		"body", body,
		"metadata", metadata,
	)
	return nil
}
