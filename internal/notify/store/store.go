package store

import (
	"context"
	"time"

	"lifetag/internal/notify/models"
	id "lifetag/pkg/domain"
)

// Store persists notification events.
//
// Insert is the dedup point: it atomically stores the event as
// suppressed_duplicate when a non-suppressed event already exists for the
// same tag and bucket, and returns sentinel.ErrConflict when an event for the
// audit entry exists.
type Store interface {
	Insert(ctx context.Context, ev *models.Event) (*models.Event, error)
	// ClaimDue leases up to limit deliverable events until now+lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Event, error)
	// Update writes back a claimed event. Terminal events are rejected with
	// sentinel.ErrInvalidState.
	Update(ctx context.Context, ev *models.Event) error
	// MissingAuditEntries returns the IDs that have no event yet.
	MissingAuditEntries(ctx context.Context, ids []id.AuditEntryID) ([]id.AuditEntryID, error)
	ListByOwner(ctx context.Context, owner id.AccountID, limit int) ([]*models.Event, error)
}
