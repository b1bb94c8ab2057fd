package handler

import (
	"time"

	"lifetag/internal/registry/models"
)

type TagResponse struct {
	ID             string     `json:"id"`
	ProfileID      string     `json:"profile_id,omitempty"`
	Status         string     `json:"status"`
	RegisteredAt   time.Time  `json:"registered_at"`
	LinkedAt       *time.Time `json:"linked_at,omitempty"`
	LastResolvedAt *time.Time `json:"last_resolved_at,omitempty"`
	AccessCount    int64      `json:"access_count"`
}

func toTagResponse(tag *models.Tag) TagResponse {
	resp := TagResponse{
		ID:             tag.ID.String(),
		Status:         string(tag.Status),
		RegisteredAt:   tag.RegisteredAt,
		LinkedAt:       tag.LinkedAt,
		LastResolvedAt: tag.LastResolvedAt,
		AccessCount:    tag.AccessCount,
	}
	if tag.ProfileID != nil {
		resp.ProfileID = tag.ProfileID.String()
	}
	return resp
}

type EventResponse struct {
	TagID string    `json:"tag_id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

func toEventResponse(e models.Event) EventResponse {
	return EventResponse{
		TagID: e.TagID.String(),
		From:  string(e.From),
		To:    string(e.To),
		Actor: e.Actor,
		Note:  e.Note,
		At:    e.At,
	}
}
