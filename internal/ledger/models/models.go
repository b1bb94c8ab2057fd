package models

import (
	"encoding/base64"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

// Outcome is the result of one emergency resolution attempt.
type Outcome string

const (
	OutcomeGranted           Outcome = "granted"
	OutcomeDeniedSuspended   Outcome = "denied_suspended"
	OutcomeDeniedRevoked     Outcome = "denied_revoked"
	OutcomeInvalidTag        Outcome = "invalid_tag"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeDeniedUnavailable Outcome = "denied_unavailable"
)

func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(s); o {
	case OutcomeGranted, OutcomeDeniedSuspended, OutcomeDeniedRevoked,
		OutcomeInvalidTag, OutcomeRateLimited, OutcomeDeniedUnavailable:
		return o, true
	}
	return "", false
}

// Entry is one immutable audit record. ProfileID and OwnerID are nil when
// the tag could not be tied to a profile (invalid or rate-limited attempts).
type Entry struct {
	ID              id.AuditEntryID   `json:"id"`
	TagID           id.TagID          `json:"tag_id"`
	ProfileID       *id.ProfileID     `json:"profile_id,omitempty"`
	OwnerID         *id.AccountID     `json:"-"`
	Outcome         Outcome           `json:"outcome"`
	DisclosedFields []string          `json:"disclosed_fields"`
	FieldTiers      map[string]string `json:"field_tiers,omitempty"`
	Origin          string            `json:"origin"`
	UserAgentClass  string            `json:"user_agent_class"`
	RequestID       string            `json:"request_id"`
	Timestamp       time.Time         `json:"timestamp"`
}

// EncodeFieldTiers flattens tiers to sorted "name:tier" pairs for storage.
func EncodeFieldTiers(tiers map[string]string) []string {
	out := make([]string, 0, len(tiers))
	for name, tier := range tiers {
		out = append(out, name+":"+tier)
	}
	slices.Sort(out)
	return out
}

func DecodeFieldTiers(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, tier, ok := strings.Cut(pair, ":")
		if ok {
			out[name] = tier
		}
	}
	return out
}

// Filter narrows an owner's audit view. Zero values match everything.
type Filter struct {
	From     time.Time
	To       time.Time
	Outcomes []Outcome
	Query    string
}

// Matches applies the filter in memory. Query is a case-insensitive
// substring match against disclosed field names.
func (f Filter) Matches(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	if len(f.Outcomes) > 0 && !slices.Contains(f.Outcomes, e.Outcome) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return slices.ContainsFunc(e.DisclosedFields, func(name string) bool {
			return strings.Contains(strings.ToLower(name), q)
		})
	}
	return true
}

// Cursor is the keyset position (timestamp, id) of the last entry returned.
// Pages run newest first.
type Cursor struct {
	At time.Time
	ID id.AuditEntryID
}

func CursorOf(e Entry) *Cursor {
	return &Cursor{At: e.Timestamp, ID: e.ID}
}

// Before reports whether e sorts after the cursor in a descending scan.
func (c *Cursor) Before(e Entry) bool {
	if c == nil {
		return true
	}
	if !e.Timestamp.Equal(c.At) {
		return e.Timestamp.Before(c.At)
	}
	return uuid.UUID(e.ID).String() < uuid.UUID(c.ID).String()
}

// After reports whether e sorts after the cursor in an ascending scan.
func (c *Cursor) After(e Entry) bool {
	if c == nil {
		return true
	}
	if !e.Timestamp.Equal(c.At) {
		return e.Timestamp.After(c.At)
	}
	return uuid.UUID(e.ID).String() > uuid.UUID(c.ID).String()
}

func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.At.UnixMicro(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	invalid := dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, invalid
	}
	micros, rawID, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, invalid
	}
	at, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return nil, invalid
	}
	entryID, err := id.ParseAuditEntryID(rawID)
	if err != nil {
		return nil, invalid
	}
	return &Cursor{At: time.UnixMicro(at).UTC(), ID: entryID}, nil
}

// Page is one slice of an owner's audit trail. Next is empty on the last page.
type Page struct {
	Entries []Entry `json:"entries"`
	Next    string  `json:"next_cursor,omitempty"`
}

// RetentionReport summarizes entries that have outlived the retention
// minimum and may be moved to offline archive storage.
type RetentionReport struct {
	Cutoff     time.Time  `json:"cutoff"`
	Total      int64      `json:"total"`
	PastCutoff int64      `json:"past_cutoff"`
	Oldest     *time.Time `json:"oldest,omitempty"`
}

// Stats are the owner dashboard counters.
type Stats struct {
	TotalGranted     int `json:"total_granted"`
	GrantedThisMonth int `json:"granted_this_month"`
	FailedAttempts   int `json:"failed_attempts"`
	DistinctOrigins  int `json:"distinct_origins"`
}
