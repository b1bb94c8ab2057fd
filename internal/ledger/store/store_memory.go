package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"lifetag/internal/ledger/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

// InMemory keeps entries in append order.
type InMemory struct {
	mu      sync.RWMutex
	entries []models.Entry
	ids     map[id.AuditEntryID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{ids: make(map[id.AuditEntryID]struct{})}
}

func (s *InMemory) Append(ctx context.Context, entry models.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[entry.ID]; dup {
		return fmt.Errorf("audit entry %s: %w", entry.ID, sentinel.ErrConflict)
	}
	s.ids[entry.ID] = struct{}{}
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *InMemory) Page(ctx context.Context, owner id.AccountID, filter models.Filter, after *models.Cursor, limit int) ([]models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Entry
	for _, e := range s.entries {
		if e.OwnerID == nil || *e.OwnerID != owner {
			continue
		}
		if filter.Matches(e) && after.Before(e) {
			matched = append(matched, e)
		}
	}
	slices.SortFunc(matched, func(a, b models.Entry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return compareIDs(b.ID, a.ID)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.Entry, len(matched))
	for i, e := range matched {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (s *InMemory) Stats(ctx context.Context, owner id.AccountID, monthStart time.Time) (models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return models.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.Stats
	origins := map[string]struct{}{}
	for _, e := range s.entries {
		if e.OwnerID == nil || *e.OwnerID != owner {
			continue
		}
		if e.Outcome == models.OutcomeGranted {
			stats.TotalGranted++
			if !e.Timestamp.Before(monthStart) {
				stats.GrantedThisMonth++
			}
		} else {
			stats.FailedAttempts++
		}
		if e.Origin != "" {
			origins[e.Origin] = struct{}{}
		}
	}
	stats.DistinctOrigins = len(origins)
	return stats, nil
}

func (s *InMemory) GrantedBetween(ctx context.Context, since, until time.Time, after *models.Cursor, limit int) ([]models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Entry
	for _, e := range s.entries {
		if e.Outcome != models.OutcomeGranted || e.Timestamp.Before(since) || !e.Timestamp.Before(until) {
			continue
		}
		if !after.After(e) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	slices.SortFunc(out, func(a, b models.Entry) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Retention(ctx context.Context, cutoff time.Time) (models.RetentionReport, error) {
	if err := ctx.Err(); err != nil {
		return models.RetentionReport{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := models.RetentionReport{Cutoff: cutoff, Total: int64(len(s.entries))}
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			report.PastCutoff++
		}
		if report.Oldest == nil || e.Timestamp.Before(*report.Oldest) {
			ts := e.Timestamp
			report.Oldest = &ts
		}
	}
	return report, nil
}

func compareIDs(a, b id.AuditEntryID) int {
	return slices.Compare(a[:], b[:])
}

func cloneEntry(e models.Entry) models.Entry {
	cp := e
	cp.DisclosedFields = slices.Clone(e.DisclosedFields)
	if e.FieldTiers != nil {
		cp.FieldTiers = make(map[string]string, len(e.FieldTiers))
		for k, v := range e.FieldTiers {
			cp.FieldTiers[k] = v
		}
	}
	return cp
}
