package access

import (
	"context"
	"time"
)

// EventType names a workflow notification.
type EventType string

const (
	EventRequestCreated  EventType = "request.created"
	EventRequestAccepted EventType = "request.accepted"
	EventRequestRejected EventType = "request.rejected"
	EventRequestRevoked  EventType = "request.revoked"
	EventPermissionSet   EventType = "permission.updated"
)

// Event is published after a committed workflow change.
type Event struct {
	Type        EventType     `json:"type"`
	RequestID   string        `json:"request_id,omitempty"`
	RequesterID string        `json:"requester_id"`
	ReceiverID  string        `json:"receiver_id"`
	Status      RequestStatus `json:"status,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// Recipients lists the users an event concerns.
func (e Event) Recipients() []string {
	if e.RequesterID == e.ReceiverID {
		return []string{e.RequesterID}
	}
	return []string{e.RequesterID, e.ReceiverID}
}

// Notifier receives committed workflow events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}
