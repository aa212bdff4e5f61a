// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// EventJobStatus is sent when a job reaches a terminal state.
const EventJobStatus = "job.status"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to the clients of one tenant only.
	BroadcastEvent(ctx context.Context, tenantID int64, eventType string, payload any)
}
