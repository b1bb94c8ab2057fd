package handler

import (
	"strings"

	"lifetag/internal/profile/models"
	dErrors "lifetag/pkg/domain-errors"
)

type SetFieldRequest struct {
	Value string `json:"value"`
	Tier  string `json:"tier"`
}

func (r *SetFieldRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Tier = strings.TrimSpace(r.Tier)
	if r.Tier == "" {
		return dErrors.New(dErrors.CodeValidation, "tier is required")
	}
	return nil
}

type ContactRequest struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Kind         string `json:"kind"`
	Address      string `json:"address"`
	AccessAlerts bool   `json:"access_alerts"`
}

type SetContactsRequest struct {
	Contacts []ContactRequest `json:"contacts"`
}

func (r *SetContactsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Contacts) > models.MaxContacts {
		return dErrors.New(dErrors.CodeValidation, "too many contacts")
	}
	return nil
}

func (r *SetContactsRequest) toModels() []models.Contact {
	out := make([]models.Contact, len(r.Contacts))
	for i, c := range r.Contacts {
		out[i] = models.Contact{
			Name:         c.Name,
			Relationship: c.Relationship,
			Kind:         models.ContactKind(strings.ToLower(strings.TrimSpace(c.Kind))),
			Address:      c.Address,
			AccessAlerts: c.AccessAlerts,
		}
	}
	return out
}

type SetPINRequest struct {
	PIN string `json:"pin"`
}

func (r *SetPINRequest) Validate() error {
	if r == nil || r.PIN == "" {
		return dErrors.New(dErrors.CodeValidation, "pin is required")
	}
	return nil
}
