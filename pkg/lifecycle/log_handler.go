package lifecycle

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// LogHandler returns an EventHandler writing one structured record per event.
// Failure and cancellation events are logged at warn level.
func LogHandler(l *slog.Logger) EventHandler {
	if l == nil {
		l = slog.Default()
	}
	return func(ctx context.Context, event Event) error {
		level := slog.LevelInfo
		switch event.Type {
		case EventRenewalFailed, EventTrialConversionFailed, EventRetryFailed,
			EventEnteredGracePeriod, EventMarkedUnpaid, EventCanceledNonpayment:
			level = slog.LevelWarn
		}

		attrs := make([]slog.Attr, 0, len(event.Data))
		for _, k := range slices.Sorted(maps.Keys(event.Data)) {
			attrs = append(attrs, slog.Any(k, event.Data[k]))
		}

		l.LogAttrs(ctx, level, "subscription lifecycle event",
			logger.EventID(event.ID),
			logger.EventType(string(event.Type)),
			logger.SubscriptionID(event.SubscriptionID),
			logger.CustomerID(event.CustomerID),
			slog.Time("occurred_at", event.OccurredAt),
			logger.Group("data", attrs...),
		)
		return nil
	}
}
