// Package policy decides which profile fields an emergency viewer may see.
// Every function here is pure: no storage, no clock reads, no logging.
package policy

import "strings"

// Tier is the visibility tier of a single profile field.
type Tier string

const (
	TierPublic    Tier = "public"
	TierProtected Tier = "protected"
	TierPrivate   Tier = "private"
)

// ParseTier parses a tier name. Unknown or empty names return TierPrivate and
// ok=false so callers can report the fail-closed fallback.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPublic:
		return TierPublic, true
	case TierProtected:
		return TierProtected, true
	case TierPrivate:
		return TierPrivate, true
	default:
		return TierPrivate, false
	}
}

// IsValid reports whether t is one of the three known tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierPublic, TierProtected, TierPrivate:
		return true
	}
	return false
}

// Effective returns the tier the engine enforces for t.
func (t Tier) Effective() Tier {
	if !t.IsValid() {
		return TierPrivate
	}
	return t
}

func (t Tier) String() string { return string(t) }
