// Package notify carries reset links to the delivery collaborator. The
// module ships only a log-backed sink; real mail delivery plugs in behind
// the same interface.
package notify

import (
	"context"
	"time"

	"ratedesk.org/internal/auth"
	"ratedesk.org/internal/obs"
)

// LogSink records reset link deliveries as structured log lines. The ticket
// token itself is never logged.
type LogSink struct{}

var _ auth.NotificationSink = LogSink{}

func NewLogSink() LogSink { return LogSink{} }

// SendResetLink implements auth.NotificationSink.
func (LogSink) SendResetLink(ctx context.Context, email, ticketToken string) error {
	obs.LogRequest(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "notification",
		"event": "reset_link",
		"email": email,
	})
	return nil
}
