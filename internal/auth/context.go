package auth

import (
	"context"
	"strings"
)

// Viewer is the authenticated caller after directory sync.
type Viewer struct {
	UserID     string
	ExternalID string
	Role       string
	Email      string
}

type viewerContextKey struct{}

// ContextWithViewer attaches the authenticated viewer to the context.
func ContextWithViewer(ctx context.Context, viewer Viewer) context.Context {
	viewer.UserID = strings.TrimSpace(viewer.UserID)
	return context.WithValue(ctx, viewerContextKey{}, &viewer)
}

// ViewerFromContext extracts the authenticated viewer from the context.
func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	if ctx == nil {
		return Viewer{}, false
	}
	v, ok := ctx.Value(viewerContextKey{}).(*Viewer)
	if !ok || v == nil || v.UserID == "" {
		return Viewer{}, false
	}
	return *v, true
}

// UserIDFromContext returns the internal user id of the viewer, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ViewerFromContext(ctx)
	if !ok {
		return "", false
	}
	return v.UserID, true
}
