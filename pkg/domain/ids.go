package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "lifetag/pkg/domain-errors"
)

// Typed identifiers. They share uuid.UUID as representation but are distinct
// types so an AccountID can never be passed where a ProfileID is expected.
type (
	AccountID      uuid.UUID
	ProfileID      uuid.UUID
	AuditEntryID   uuid.UUID
	NotificationID uuid.UUID
)

// TagID is the opaque identifier printed on or encoded into a physical tag
// (NFC payload or QR code), for example "NFC-123456789".
type TagID string

const maxTagIDLength = 64

func (id AccountID) String() string      { return uuid.UUID(id).String() }
func (id ProfileID) String() string      { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string   { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }
func (id TagID) String() string          { return string(id) }

func (id AccountID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ProfileID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id NotificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewAuditEntryID returns a time-ordered (UUIDv7) identifier so entry IDs sort
// in append order.
func NewAuditEntryID() AuditEntryID {
	return AuditEntryID(uuid.Must(uuid.NewV7()))
}

func NewNotificationID() NotificationID {
	return NotificationID(uuid.Must(uuid.NewV7()))
}

func NewProfileID() ProfileID {
	return ProfileID(uuid.New())
}

func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account ID")
	return AccountID(u), err
}

func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s, "profile ID")
	return ProfileID(u), err
}

func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry ID")
	return AuditEntryID(u), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s, "notification ID")
	return NotificationID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// ParseTagID validates a tag identifier read from a URL or admin input.
// Allowed: ASCII letters, digits, '-' and '_', 1..64 characters.
func ParseTagID(s string) (TagID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tag ID is required")
	}
	if len(s) > maxTagIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid tag ID")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid tag ID")
		}
	}
	return TagID(s), nil
}
