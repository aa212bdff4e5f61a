package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/SiteKeeper/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a typed event and sends it to one tenant's
// connections.
func (h *Hub) BroadcastEvent(ctx context.Context, tenantID int64, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.BroadcastToTenant(ctx, tenantID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
