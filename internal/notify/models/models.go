package models

import (
	"slices"
	"time"

	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

// State of a notification event.
type State string

const (
	StatePending             State = "pending"
	StateDelivered           State = "delivered"
	StateFailed              State = "failed"
	StateSuppressedDuplicate State = "suppressed_duplicate"
	StateSuppressedOptedOut  State = "suppressed_opted_out"
)

// IsSuppressed reports whether the event was recorded but will never be sent.
func (s State) IsSuppressed() bool {
	return s == StateSuppressedDuplicate || s == StateSuppressedOptedOut
}

// ChannelKind is the delivery medium of a channel.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelSMS   ChannelKind = "sms"
)

// Channel is one destination derived from the owner's alert contacts.
type Channel struct {
	Kind    ChannelKind `json:"kind"`
	Address string      `json:"address"`
}

// Key identifies the channel in DeliveredChannels.
func (c Channel) Key() string {
	return string(c.Kind) + ":" + c.Address
}

// Event is one "your profile was accessed" notification, created from a
// granted audit entry.
//
// Invariants:
//   - at most one event per audit entry
//   - at most one non-suppressed event per (tag, bucket)
//   - a terminal failure never changes state again
type Event struct {
	ID                id.NotificationID
	AuditEntryID      id.AuditEntryID
	TagID             id.TagID
	ProfileID         id.ProfileID
	OwnerID           id.AccountID
	Channels          []Channel
	State             State
	Terminal          bool
	Attempts          int
	NextRetryAt       time.Time
	LeaseUntil        time.Time
	LastError         string
	DeliveredChannels []string
	BucketStart       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BucketStart returns the start of the dedup bucket containing at.
func BucketStart(at time.Time, size time.Duration) time.Time {
	return at.UTC().Truncate(size)
}

// NewEvent builds a pending event, or a suppressed_opted_out one when no
// channel is configured.
func NewEvent(auditEntryID id.AuditEntryID, tagID id.TagID, profileID id.ProfileID, owner id.AccountID, channels []Channel, bucket time.Duration, now time.Time) (*Event, error) {
	if auditEntryID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit entry ID required")
	}
	if bucket <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "dedup bucket must be positive")
	}
	state := StatePending
	if len(channels) == 0 {
		state = StateSuppressedOptedOut
	}
	return &Event{
		ID:                id.NewNotificationID(),
		AuditEntryID:      auditEntryID,
		TagID:             tagID,
		ProfileID:         profileID,
		OwnerID:           owner,
		Channels:          channels,
		State:             state,
		DeliveredChannels: []string{},
		BucketStart:       BucketStart(now, bucket),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsDue reports whether a dispatcher may attempt delivery at now.
func (e *Event) IsDue(now time.Time) bool {
	if e.Terminal {
		return false
	}
	if e.State != StatePending && e.State != StateFailed {
		return false
	}
	if !e.NextRetryAt.IsZero() && e.NextRetryAt.After(now) {
		return false
	}
	return e.LeaseUntil.IsZero() || !e.LeaseUntil.After(now)
}

// BeginAttempt moves a retryable failure back to pending for a new attempt.
func (e *Event) BeginAttempt(now time.Time) error {
	if e.Terminal || (e.State != StatePending && e.State != StateFailed) {
		return dErrors.New(dErrors.CodeInvalidState, "event is not deliverable")
	}
	e.State = StatePending
	e.UpdatedAt = now
	return nil
}

// Undelivered returns the channels not yet acknowledged.
func (e *Event) Undelivered() []Channel {
	var out []Channel
	for _, ch := range e.Channels {
		if !slices.Contains(e.DeliveredChannels, ch.Key()) {
			out = append(out, ch)
		}
	}
	return out
}

// MarkChannelDelivered records one acknowledged channel.
func (e *Event) MarkChannelDelivered(ch Channel) {
	if !slices.Contains(e.DeliveredChannels, ch.Key()) {
		e.DeliveredChannels = append(e.DeliveredChannels, ch.Key())
	}
}

// Complete closes the attempt: delivered when every channel acknowledged,
// otherwise failed with a retry time, or terminally failed once maxAttempts
// is reached.
func (e *Event) Complete(now time.Time, lastErr string, maxAttempts int, backoff func(attempt int) time.Duration) {
	e.Attempts++
	e.LeaseUntil = time.Time{}
	e.UpdatedAt = now
	if len(e.Undelivered()) == 0 {
		e.State = StateDelivered
		e.LastError = ""
		e.NextRetryAt = time.Time{}
		return
	}
	e.State = StateFailed
	e.LastError = lastErr
	if e.Attempts >= maxAttempts {
		e.Terminal = true
		e.NextRetryAt = time.Time{}
		return
	}
	e.NextRetryAt = now.Add(backoff(e.Attempts))
}

func (e *Event) Clone() *Event {
	cp := *e
	cp.Channels = slices.Clone(e.Channels)
	cp.DeliveredChannels = slices.Clone(e.DeliveredChannels)
	return &cp
}

// Backoff returns base doubled per prior attempt, capped at ceiling.
func Backoff(base, ceiling time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= ceiling {
				return ceiling
			}
		}
		return min(d, ceiling)
	}
}

// Payload is the delivery request handed to a Sender.
type Payload struct {
	EventID    string    `json:"event_id"`
	TagID      string    `json:"tag_id"`
	ProfileID  string    `json:"profile_id"`
	AccessedAt time.Time `json:"accessed_at"`
}

func (e *Event) Payload() Payload {
	return Payload{
		EventID:    e.ID.String(),
		TagID:      e.TagID.String(),
		ProfileID:  e.ProfileID.String(),
		AccessedAt: e.CreatedAt,
	}
}
