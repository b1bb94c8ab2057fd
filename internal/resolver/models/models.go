package models

import (
	"errors"
	"time"

	ledgermodels "lifetag/internal/ledger/models"
)

// Reason explains a denial. Viewers never see it; it is logged and audited.
type Reason string

const (
	ReasonInvalidTag  Reason = "invalid_tag"
	ReasonSuspended   Reason = "suspended"
	ReasonRevoked     Reason = "revoked"
	ReasonRateLimited Reason = "rate_limited"
	ReasonUnavailable Reason = "unavailable"
)

// Outcome maps a denial reason onto the audit outcome recorded for it.
func (r Reason) Outcome() ledgermodels.Outcome {
	switch r {
	case ReasonSuspended:
		return ledgermodels.OutcomeDeniedSuspended
	case ReasonRevoked:
		return ledgermodels.OutcomeDeniedRevoked
	case ReasonRateLimited:
		return ledgermodels.OutcomeRateLimited
	case ReasonUnavailable:
		return ledgermodels.OutcomeDeniedUnavailable
	default:
		return ledgermodels.OutcomeInvalidTag
	}
}

// Denied is returned when a resolution was refused. It is an expected
// outcome, not a failure.
type Denied struct {
	Reason Reason
	// RetryAt is set for rate_limited denials.
	RetryAt time.Time
}

func (d *Denied) Error() string {
	return "emergency view denied: " + string(d.Reason)
}

// AsDenied unwraps a *Denied from err.
func AsDenied(err error) (*Denied, bool) {
	var d *Denied
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// RequestMeta is the coarse, privacy-reduced context of a viewer request.
// Origin is a network prefix; the raw address is never passed in.
type RequestMeta struct {
	Origin         string
	UserAgentClass string
	RequestID      string
}

// ProofGrant is a minted proof token.
type ProofGrant struct {
	Token     string
	ExpiresAt time.Time
}
