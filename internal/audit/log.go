// Package audit emits append-only security event records. Delivery is
// best-effort: the auth engine logs and discards sink failures so auditing
// never fails the primary operation.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ratedesk.org/internal/auth"
	"ratedesk.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and subject context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok && principal.Identity != nil {
		entry["actor_id"] = principal.Identity.ID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Sink adapts LogEvent to the engine's audit collaborator interface.
type Sink struct{}

var _ auth.AuditSink = Sink{}

// NewSink returns the log-backed audit sink.
func NewSink() Sink { return Sink{} }

// Record implements auth.AuditSink.
func (Sink) Record(ctx context.Context, event string, metadata map[string]any) error {
	return LogEvent(ctx, event, metadata)
}
