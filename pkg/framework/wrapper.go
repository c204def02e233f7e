// Package framework adapts cloud function handlers to a uniform shape:
// dependency injection, per-invocation logging, Sentry capture. The durable
// execution trail is the import batch record the pipeline itself writes, so
// the wrapper stays thin.
package framework

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/kyoku-gg/server/pkg/bootstrap"
	"github.com/kyoku-gg/server/pkg/infrastructure/sentry"
	"github.com/kyoku-gg/server/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework.
type FrameworkContext struct {
	Service *bootstrap.Service
	Logger  *slog.Logger
}

// HandlerFunc is the signature for a cloud function handler.
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a handler with logging and error capture.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		logger := bootstrap.NewLogger(serviceName, svc.Config.LogLevel)
		if userID := extractUserID(e); userID != "" {
			logger = logger.With("user_id", userID)
		}
		logger.InfoContext(ctx, "Function started", "event_type", e.Type())

		defer sentry.RecoverAndCapture(logger)

		fwCtx := &FrameworkContext{Service: svc, Logger: logger}
		_, err := handler(ctx, e, fwCtx)
		if err != nil {
			logger.ErrorContext(ctx, "Function failed", "error", err)
			sentry.CaptureException(err, map[string]interface{}{
				"service":    serviceName,
				"event_type": e.Type(),
			}, logger)
			return err
		}

		logger.InfoContext(ctx, "Function completed successfully")
		return nil
	}
}

// extractUserID pulls the user from a Pub/Sub payload for log correlation.
func extractUserID(e event.Event) string {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil {
		return ""
	}
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(msg.Message.Data, &payload); err != nil {
		return ""
	}
	return payload.UserID
}
