package policy

import (
	"slices"
	"time"

	id "lifetag/pkg/domain"
)

// Profile is the read-only view of a profile the engine evaluates.
type Profile interface {
	ProfileID() id.ProfileID
	// FieldTiers returns the stored tier of every field, as stored. Values
	// outside the known tiers are allowed here and fail closed below.
	FieldTiers() map[string]Tier
	FieldValue(name string) (string, bool)
}

// Proof is a verified, time-boxed elevation scoped to one profile.
type Proof struct {
	ProfileID id.ProfileID
	ExpiresAt time.Time
	TokenID   string
}

// Grants reports whether the proof elevates access to profileID at now.
func (p *Proof) Grants(profileID id.ProfileID, now time.Time) bool {
	if p == nil || p.ProfileID.IsNil() {
		return false
	}
	return p.ProfileID == profileID && now.Before(p.ExpiresAt)
}

// FieldSet maps each disclosable field name to the tier in force.
type FieldSet map[string]Tier

// Names returns the field names in sorted order.
func (fs FieldSet) Names() []string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (fs FieldSet) Contains(name string) bool {
	_, ok := fs[name]
	return ok
}

// Decision is the result of Evaluate. Violations lists fields whose stored
// tier was unknown and therefore treated as private.
type Decision struct {
	Fields     FieldSet
	Elevated   bool
	Violations []string
}

// DisclosableFields returns the fields a viewer holding proof may see.
// Without a granting proof only public fields are returned; with one, public
// and protected. Private fields are never returned.
func DisclosableFields(profile Profile, proof *Proof, now time.Time) FieldSet {
	return Evaluate(profile, proof, now).Fields
}

// Evaluate computes the disclosable set and reports fail-closed fields.
func Evaluate(profile Profile, proof *Proof, now time.Time) Decision {
	elevated := proof.Grants(profile.ProfileID(), now)
	d := Decision{Fields: FieldSet{}, Elevated: elevated}

	for name, tier := range profile.FieldTiers() {
		if !tier.IsValid() {
			d.Violations = append(d.Violations, name)
		}
		switch tier.Effective() {
		case TierPublic:
			d.Fields[name] = TierPublic
		case TierProtected:
			if elevated {
				d.Fields[name] = TierProtected
			}
		}
	}
	slices.Sort(d.Violations)
	return d
}
