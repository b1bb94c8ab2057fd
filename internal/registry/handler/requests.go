package handler

import (
	"strings"

	"lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

type LinkRequest struct {
	ProfileID string `json:"profile_id"`

	profileID id.ProfileID
}

func (r *LinkRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	parsed, err := id.ParseProfileID(strings.TrimSpace(r.ProfileID))
	if err != nil {
		return err
	}
	r.profileID = parsed
	return nil
}

type SetStatusRequest struct {
	Status string `json:"status"`

	status models.Status
}

func (r *SetStatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	status, ok := models.ParseStatus(strings.ToLower(strings.TrimSpace(r.Status)))
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "status must be active, suspended or revoked")
	}
	r.status = status
	return nil
}

type RegisterRequest struct {
	TagID string `json:"tag_id"`

	tagID id.TagID
}

func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	tagID, err := id.ParseTagID(strings.TrimSpace(r.TagID))
	if err != nil {
		return err
	}
	r.tagID = tagID
	return nil
}

type ReregisterRequest struct {
	Note string `json:"note"`
}

func (r *ReregisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Note = strings.TrimSpace(r.Note)
	if r.Note == "" {
		return dErrors.New(dErrors.CodeValidation, "note is required")
	}
	return nil
}

type EntitlementRequest struct {
	TagID    string `json:"tag_id"`
	Entitled *bool  `json:"entitled"`

	tagID id.TagID
}

func (r *EntitlementRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	tagID, err := id.ParseTagID(strings.TrimSpace(r.TagID))
	if err != nil {
		return err
	}
	if r.Entitled == nil {
		return dErrors.New(dErrors.CodeValidation, "entitled is required")
	}
	r.tagID = tagID
	return nil
}
