package handler

import (
	"time"

	"lifetag/internal/policy"
)

type FieldResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Tier  string `json:"tier"`
}

// EmergencyViewResponse carries disclosed fields only, never owner or
// profile identifiers.
type EmergencyViewResponse struct {
	Elevated bool            `json:"elevated"`
	Fields   []FieldResponse `json:"fields"`
}

type ProofResponse struct {
	Token     string    `json:"proof_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toEmergencyViewResponse(view *policy.RedactedProfile) EmergencyViewResponse {
	out := EmergencyViewResponse{Elevated: view.Elevated, Fields: make([]FieldResponse, 0, len(view.Fields))}
	for _, f := range view.Fields {
		out.Fields = append(out.Fields, FieldResponse{Name: f.Name, Value: f.Value, Tier: f.Tier.String()})
	}
	return out
}
