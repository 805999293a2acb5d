package logging

import (
	"context"
	"log/slog"

	"github.com/terraskye/pipeline/eventbus"
)

// SubscriberLogging decorates an event subscriber with slog output.
func SubscriberLogging(logger *slog.Logger, name string, next eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, env eventbus.Envelope) error {
		l := logger.With(
			"subscriber", name,
			"event_type", env.Event.EventType(),
			"event_id", env.EventID.String(),
			"correlation_id", env.CorrelationID.String(),
		)

		l.DebugContext(ctx, "event processing started")

		err := next(ctx, env)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	}
}
