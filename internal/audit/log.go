package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"salesgrid.io/internal/auth"
	"salesgrid.io/internal/obs"
)

// Event names written by the access API.
const (
	EventRequestSent       = "access.request.sent"
	EventRequestAccepted   = "access.request.accepted"
	EventRequestRejected   = "access.request.rejected"
	EventRequestRevoked    = "access.request.revoked"
	EventPermissionUpdated = "access.permission.updated"
	EventRoleChanged       = "directory.role.changed"
	EventAssigneeLinked    = "directory.assignee.linked"
	EventAssigneeUnlinked  = "directory.assignee.unlinked"
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

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and viewer context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if viewer, ok := auth.ViewerFromContext(ctx); ok {
		entry["user_id"] = viewer.UserID
		if viewer.Role != "" {
			entry["role"] = viewer.Role
		}
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.Logger().WithFields(entry).Info(event)
	return nil
}
