package handler

import (
	"time"

	"lifetag/internal/profile/models"
)

// OwnerViewResponse is the owner's complete view, private fields included.
type OwnerViewResponse struct {
	ID        string                  `json:"id"`
	Fields    map[string]models.Field `json:"fields"`
	Contacts  []models.Contact        `json:"contacts"`
	HasPIN    bool                    `json:"has_pin"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func toOwnerView(p *models.Profile) OwnerViewResponse {
	contacts := p.Contacts
	if contacts == nil {
		contacts = []models.Contact{}
	}
	return OwnerViewResponse{
		ID:        p.ID.String(),
		Fields:    p.Fields,
		Contacts:  contacts,
		HasPIN:    p.HasPIN(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
