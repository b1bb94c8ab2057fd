package models

import (
	"time"

	"github.com/google/uuid"

	id "lifetag/pkg/domain"
)

// Status is the lifecycle state of a physical tag.
type Status string

const (
	StatusUnlinked  Status = "unlinked"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusUnlinked, StatusActive, StatusSuspended, StatusRevoked:
		return st, true
	}
	return "", false
}

// CanTransitionTo reports whether the state machine has an edge from s to next:
//
//	unlinked  -> active              (link)
//	active    -> suspended | revoked | unlinked (replace)
//	suspended -> active | revoked | unlinked (replace)
//	revoked   -> unlinked            (re-registration only)
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusUnlinked:
		return next == StatusActive
	case StatusActive:
		return next == StatusSuspended || next == StatusRevoked || next == StatusUnlinked
	case StatusSuspended:
		return next == StatusActive || next == StatusRevoked || next == StatusUnlinked
	case StatusRevoked:
		return next == StatusUnlinked
	}
	return false
}

// IsLinked reports whether a tag in this status holds a live profile link.
func (s Status) IsLinked() bool {
	return s == StatusActive || s == StatusSuspended
}

// Tag is a physical NFC/QR identifier. Tags are never deleted; revocation is
// the tombstone.
//
// Invariants:
//   - at most one owning profile at any time
//   - ProfileID is nil while Status is unlinked; a revoked tag keeps its
//     last profile for audit continuity
type Tag struct {
	ID             id.TagID      `json:"id"`
	ProfileID      *id.ProfileID `json:"profile_id,omitempty"`
	Status         Status        `json:"status"`
	RegisteredAt   time.Time     `json:"registered_at"`
	LinkedAt       *time.Time    `json:"linked_at,omitempty"`
	LastResolvedAt *time.Time    `json:"last_resolved_at,omitempty"`
	AccessCount    int64         `json:"access_count"`
}

// Resolution is the consistent snapshot returned to the resolver.
type Resolution struct {
	TagID     id.TagID
	ProfileID *id.ProfileID
	Status    Status
}

func (t *Tag) Resolution() Resolution {
	return Resolution{TagID: t.ID, ProfileID: t.ProfileID, Status: t.Status}
}

func (t *Tag) LinkedTo(profileID id.ProfileID) bool {
	return t.ProfileID != nil && *t.ProfileID == profileID
}

func (t *Tag) Clone() *Tag {
	cp := *t
	if t.ProfileID != nil {
		p := *t.ProfileID
		cp.ProfileID = &p
	}
	if t.LinkedAt != nil {
		v := *t.LinkedAt
		cp.LinkedAt = &v
	}
	if t.LastResolvedAt != nil {
		v := *t.LastResolvedAt
		cp.LastResolvedAt = &v
	}
	return &cp
}

// Event is the internal transition record used to rebuild link history for
// owners. It is not an audit entry.
type Event struct {
	ID        uuid.UUID     `json:"id"`
	TagID     id.TagID      `json:"tag_id"`
	ProfileID *id.ProfileID `json:"profile_id,omitempty"`
	From      Status        `json:"from"`
	To        Status        `json:"to"`
	Actor     string        `json:"actor"`
	Note      string        `json:"note,omitempty"`
	At        time.Time     `json:"at"`
}

func NewEvent(tag *Tag, profileID *id.ProfileID, from, to Status, actor, note string, at time.Time) Event {
	return Event{
		ID:        uuid.Must(uuid.NewV7()),
		TagID:     tag.ID,
		ProfileID: profileID,
		From:      from,
		To:        to,
		Actor:     actor,
		Note:      note,
		At:        at,
	}
}

// Requester identifies who asks for a registry mutation: an authenticated
// account or the system (billing, administration).
type Requester struct {
	AccountID id.AccountID
	Entitled  bool
	System    bool
}

func SystemRequester() Requester {
	return Requester{System: true, Entitled: true}
}

func AccountRequester(accountID id.AccountID, entitled bool) Requester {
	return Requester{AccountID: accountID, Entitled: entitled}
}

// Actor is the label stored on transition events.
func (r Requester) Actor() string {
	if r.System {
		return "system"
	}
	return "account:" + r.AccountID.String()
}
