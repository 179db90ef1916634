// Package logger builds *slog.Logger instances for billing services and
// provides attribute helpers that keep key names consistent across packages.
//
// New creates a JSON or text handler, applies static attributes and wraps it
// with LogHandlerDecorator, which appends attributes extracted from the
// context on every record:
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "billing-worker"),
//	    logger.WithContextValue("run_id", runIDKey{}),
//	)
//	log.InfoContext(ctx, "subscription renewed",
//	    logger.SubscriptionID(sub.ID),
//	    logger.Transition(subscription.StatusPastDue, subscription.StatusActive),
//	)
//
// Config holds the SERVICE_NAME, APP_ENV, LOG_LEVEL and LOG_FORMAT variables
// and converts them into options with Config.Options.
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
