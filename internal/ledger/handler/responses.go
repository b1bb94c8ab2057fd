package handler

import (
	"time"

	"lifetag/internal/ledger/models"
)

type EntryResponse struct {
	ID              string            `json:"id"`
	TagID           string            `json:"tag_id"`
	Outcome         string            `json:"outcome"`
	DisclosedFields []string          `json:"disclosed_fields"`
	FieldTiers      map[string]string `json:"field_tiers,omitempty"`
	Origin          string            `json:"origin"`
	UserAgentClass  string            `json:"user_agent_class"`
	Timestamp       time.Time         `json:"timestamp"`
}

type PageResponse struct {
	Entries    []EntryResponse `json:"entries"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func toPageResponse(page models.Page) PageResponse {
	out := PageResponse{Entries: make([]EntryResponse, 0, len(page.Entries)), NextCursor: page.Next}
	for _, e := range page.Entries {
		fields := e.DisclosedFields
		if fields == nil {
			fields = []string{}
		}
		out.Entries = append(out.Entries, EntryResponse{
			ID:              e.ID.String(),
			TagID:           e.TagID.String(),
			Outcome:         string(e.Outcome),
			DisclosedFields: fields,
			FieldTiers:      e.FieldTiers,
			Origin:          e.Origin,
			UserAgentClass:  e.UserAgentClass,
			Timestamp:       e.Timestamp,
		})
	}
	return out
}
