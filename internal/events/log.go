package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/ridematch/internal/dispatch/domain"
)

// LogPublisher writes every event to a zap logger at debug level.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt domain.Event) error {
	fields := []zap.Field{zap.String("event_type", string(evt.Type)), zap.Time("at", evt.At)}
	switch {
	case evt.Match != nil:
		fields = append(fields,
			zap.String("request_id", evt.Match.Request.ID),
			zap.String("provider_id", evt.Match.Provider.ID),
			zap.Float64("distance", evt.Match.Distance),
			zap.String("dispatcher", evt.Match.Dispatcher),
		)
	case evt.Rejection != nil:
		fields = append(fields,
			zap.String("request_id", evt.Rejection.Request.ID),
			zap.String("reason", string(evt.Rejection.Reason)),
			zap.String("dispatcher", evt.Rejection.Dispatcher),
		)
	case evt.CacheKey != "":
		fields = append(fields, zap.String("key", evt.CacheKey))
		if evt.ExpiresAt != nil {
			fields = append(fields, zap.Time("expires_at", *evt.ExpiresAt))
		}
	}
	p.logger.Debug("event", fields...)
	return nil
}
