package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes events to a structured logger, picking the level from the
// event's risk.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) Write(ctx context.Context, e Event) error {
	s.log.Log(ctx, levelFor(e.Risk), "security event",
		"event_id", e.ID,
		"event_type", e.Type,
		"risk_level", string(e.Risk),
		"details", e.Details,
		"service", e.Client.Service,
	)
	return nil
}

func levelFor(r RiskLevel) slog.Level {
	switch r {
	case RiskCritical:
		return slog.LevelError
	case RiskHigh, RiskMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
