package handler

import (
	"strings"
	"time"

	"lifetag/internal/notify/models"
)

type ChannelResponse struct {
	Kind      string `json:"kind"`
	Address   string `json:"address"`
	Delivered bool   `json:"delivered"`
}

type EventResponse struct {
	ID          string            `json:"id"`
	TagID       string            `json:"tag_id"`
	State       string            `json:"state"`
	Terminal    bool              `json:"terminal"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
	Channels    []ChannelResponse `json:"channels"`
	CreatedAt   time.Time         `json:"created_at"`
}

type ListResponse struct {
	Notifications []EventResponse `json:"notifications"`
}

func toListResponse(events []*models.Event) ListResponse {
	out := ListResponse{Notifications: make([]EventResponse, 0, len(events))}
	for _, ev := range events {
		delivered := make(map[string]bool, len(ev.DeliveredChannels))
		for _, key := range ev.DeliveredChannels {
			delivered[key] = true
		}
		resp := EventResponse{
			ID:        ev.ID.String(),
			TagID:     ev.TagID.String(),
			State:     string(ev.State),
			Terminal:  ev.Terminal,
			Attempts:  ev.Attempts,
			LastError: ev.LastError,
			Channels:  make([]ChannelResponse, 0, len(ev.Channels)),
			CreatedAt: ev.CreatedAt,
		}
		if !ev.NextRetryAt.IsZero() {
			next := ev.NextRetryAt
			resp.NextRetryAt = &next
		}
		for _, ch := range ev.Channels {
			resp.Channels = append(resp.Channels, ChannelResponse{
				Kind:      string(ch.Kind),
				Address:   maskAddress(ch.Address),
				Delivered: delivered[ch.Key()],
			})
		}
		out.Notifications = append(out.Notifications, resp)
	}
	return out
}

// maskAddress keeps the first character and the domain or last two digits.
func maskAddress(addr string) string {
	if at := strings.IndexByte(addr, '@'); at > 0 {
		return addr[:1] + "***" + addr[at:]
	}
	if len(addr) <= 2 {
		return "**"
	}
	return "***" + addr[len(addr)-2:]
}
