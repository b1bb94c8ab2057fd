package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"lifetag/internal/notify/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

type bucketKey struct {
	tag    id.TagID
	bucket int64
}

// InMemory keeps events in maps guarded by one mutex so dedup and claims are
// atomic within the process.
type InMemory struct {
	mu       sync.Mutex
	events   map[id.NotificationID]*models.Event
	byAudit  map[id.AuditEntryID]id.NotificationID
	byBucket map[bucketKey]id.NotificationID
}

func NewInMemory() *InMemory {
	return &InMemory{
		events:   make(map[id.NotificationID]*models.Event),
		byAudit:  make(map[id.AuditEntryID]id.NotificationID),
		byBucket: make(map[bucketKey]id.NotificationID),
	}
}

func (s *InMemory) Insert(ctx context.Context, ev *models.Event) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAudit[ev.AuditEntryID]; ok {
		return nil, fmt.Errorf("notification for audit entry %s: %w", ev.AuditEntryID, sentinel.ErrConflict)
	}
	stored := ev.Clone()
	key := bucketKey{tag: ev.TagID, bucket: ev.BucketStart.UnixNano()}
	if !stored.State.IsSuppressed() {
		if _, taken := s.byBucket[key]; taken {
			stored.State = models.StateSuppressedDuplicate
		} else {
			s.byBucket[key] = stored.ID
		}
	}
	s.events[stored.ID] = stored
	s.byAudit[stored.AuditEntryID] = stored.ID
	return stored.Clone(), nil
}

func (s *InMemory) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Event
	for _, ev := range s.events {
		if ev.IsDue(now) {
			due = append(due, ev)
		}
	}
	slices.SortFunc(due, func(a, b *models.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.Event, 0, len(due))
	for _, ev := range due {
		ev.LeaseUntil = now.Add(lease)
		out = append(out, ev.Clone())
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, ev *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.events[ev.ID]
	if !ok {
		return fmt.Errorf("notification %s: %w", ev.ID, sentinel.ErrNotFound)
	}
	if current.Terminal {
		return fmt.Errorf("notification %s is terminal: %w", ev.ID, sentinel.ErrInvalidState)
	}
	s.events[ev.ID] = ev.Clone()
	return nil
}

func (s *InMemory) MissingAuditEntries(ctx context.Context, ids []id.AuditEntryID) ([]id.AuditEntryID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []id.AuditEntryID
	for _, auditID := range ids {
		if _, ok := s.byAudit[auditID]; !ok {
			missing = append(missing, auditID)
		}
	}
	return missing, nil
}

func (s *InMemory) ListByOwner(ctx context.Context, owner id.AccountID, limit int) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Event
	for _, ev := range s.events {
		if ev.OwnerID == owner {
			out = append(out, ev.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Event) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
