package models

import (
	"regexp"
	"strings"
	"time"

	"lifetag/internal/policy"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

const (
	MaxFieldValueLength = 4096
	MaxContacts         = 10
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// ContactKind is the delivery channel of an emergency contact.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactSMS   ContactKind = "sms"
)

func (k ContactKind) IsValid() bool {
	return k == ContactEmail || k == ContactSMS
}

// Field is a single medical profile entry. Tier is stored as written; the
// policy engine decides how unknown tiers are enforced.
type Field struct {
	Value     string      `json:"value"`
	Tier      policy.Tier `json:"tier"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Contact is a registered contact of the profile owner. Contacts with
// AccessAlerts set receive "your profile was accessed" notifications.
type Contact struct {
	Name         string      `json:"name"`
	Relationship string      `json:"relationship"`
	Kind         ContactKind `json:"kind"`
	Address      string      `json:"address"`
	AccessAlerts bool        `json:"access_alerts"`
}

// Profile is the emergency medical profile of one person.
//
// Invariants:
//   - OwnerID is immutable after construction
//   - every field has exactly one tier at read time
//   - tier changes apply to the next resolution, never to past audit entries
type Profile struct {
	ID        id.ProfileID     `json:"id"`
	OwnerID   id.AccountID     `json:"owner_id"`
	Fields    map[string]Field `json:"fields"`
	Contacts  []Contact        `json:"contacts"`
	PINHash   string           `json:"-"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewProfile(profileID id.ProfileID, owner id.AccountID, now time.Time) (*Profile, error) {
	if profileID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "profile ID required")
	}
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner ID required")
	}
	return &Profile{
		ID:        profileID,
		OwnerID:   owner,
		Fields:    map[string]Field{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Profile) ProfileID() id.ProfileID { return p.ID }

func (p *Profile) FieldTiers() map[string]policy.Tier {
	out := make(map[string]policy.Tier, len(p.Fields))
	for name, f := range p.Fields {
		out[name] = f.Tier
	}
	return out
}

func (p *Profile) FieldValue(name string) (string, bool) {
	f, ok := p.Fields[name]
	return f.Value, ok
}

func (p *Profile) IsOwnedBy(account id.AccountID) bool {
	return !account.IsNil() && p.OwnerID == account
}

func (p *Profile) HasPIN() bool { return p.PINHash != "" }

// AlertContacts returns the contacts opted into access alerts.
func (p *Profile) AlertContacts() []Contact {
	var out []Contact
	for _, c := range p.Contacts {
		if c.AccessAlerts {
			out = append(out, c)
		}
	}
	return out
}

// SetField creates or replaces a field. The tier must be one of the known
// tiers; the fail-closed handling of unknown tiers exists for legacy data only.
func (p *Profile) SetField(name, value string, tier policy.Tier, now time.Time) error {
	if !fieldNamePattern.MatchString(name) {
		return dErrors.New(dErrors.CodeValidation, "field name must be 1-64 letters, digits or underscores")
	}
	if len(value) > MaxFieldValueLength {
		return dErrors.New(dErrors.CodeValidation, "field value too long")
	}
	if !tier.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "tier must be public, protected or private")
	}
	p.Fields[name] = Field{Value: value, Tier: tier, UpdatedAt: now}
	p.UpdatedAt = now
	return nil
}

func (p *Profile) RemoveField(name string, now time.Time) error {
	if _, ok := p.Fields[name]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "field not found")
	}
	delete(p.Fields, name)
	p.UpdatedAt = now
	return nil
}

func (p *Profile) SetContacts(contacts []Contact, now time.Time) error {
	if len(contacts) > MaxContacts {
		return dErrors.New(dErrors.CodeValidation, "too many contacts")
	}
	cleaned := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		c.Name = strings.TrimSpace(c.Name)
		c.Address = strings.TrimSpace(c.Address)
		c.Relationship = strings.TrimSpace(c.Relationship)
		if c.Name == "" || c.Address == "" {
			return dErrors.New(dErrors.CodeValidation, "contact name and address are required")
		}
		if !c.Kind.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "contact kind must be email or sms")
		}
		if c.Kind == ContactEmail && !strings.Contains(c.Address, "@") {
			return dErrors.New(dErrors.CodeValidation, "invalid email address")
		}
		cleaned = append(cleaned, c)
	}
	p.Contacts = cleaned
	p.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stores never share maps with callers.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Fields = make(map[string]Field, len(p.Fields))
	for k, v := range p.Fields {
		cp.Fields[k] = v
	}
	cp.Contacts = append([]Contact(nil), p.Contacts...)
	return &cp
}
