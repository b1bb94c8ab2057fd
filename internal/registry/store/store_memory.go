package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded registry store. Transactions hold the write
// lock for their whole duration and stage writes in an overlay that is
// applied only when fn succeeds.
type InMemory struct {
	mu     sync.RWMutex
	tags   map[id.TagID]*models.Tag
	events []models.Event
}

func NewInMemory() *InMemory {
	return &InMemory{tags: make(map[id.TagID]*models.Tag)}
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &memTx{base: s, staged: map[id.TagID]*models.Tag{}}
	if err := fn(view); err != nil {
		return err
	}
	for tagID, tag := range view.staged {
		s.tags[tagID] = tag
	}
	s.events = append(s.events, view.events...)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(tagID)
}

func (s *InMemory) FindForUpdate(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	return s.FindByID(ctx, tagID)
}

func (s *InMemory) findLocked(tagID id.TagID) (*models.Tag, error) {
	tag, ok := s.tags[tagID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return tag.Clone(), nil
}

func (s *InMemory) FindLinkedToProfile(_ context.Context, profileID id.ProfileID) ([]*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterTags(s.tags, func(t *models.Tag) bool {
		return t.Status.IsLinked() && t.LinkedTo(profileID)
	}), nil
}

func (s *InMemory) ListByProfile(_ context.Context, profileID id.ProfileID) ([]*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterTags(s.tags, func(t *models.Tag) bool { return t.LinkedTo(profileID) }), nil
}

func (s *InMemory) Create(_ context.Context, tag *models.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createIn(s.tags, nil, tag)
}

func (s *InMemory) Update(_ context.Context, tag *models.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tags[tag.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.tags[tag.ID] = tag.Clone()
	return nil
}

func (s *InMemory) AppendEvent(_ context.Context, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemory) ListEventsByProfile(_ context.Context, profileID id.ProfileID) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eventsFor(s.events, profileID), nil
}

func (s *InMemory) RecordResolution(_ context.Context, tagID id.TagID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, ok := s.tags[tagID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if tag.LastResolvedAt == nil || at.After(*tag.LastResolvedAt) {
		tag.LastResolvedAt = &at
	}
	tag.AccessCount++
	return nil
}

// memTx is the Store handed to RunInTx callbacks. The parent write lock is
// already held, so it reads base maps directly.
type memTx struct {
	base   *InMemory
	staged map[id.TagID]*models.Tag
	events []models.Event
}

func (t *memTx) current() map[id.TagID]*models.Tag {
	merged := make(map[id.TagID]*models.Tag, len(t.base.tags)+len(t.staged))
	for k, v := range t.base.tags {
		merged[k] = v
	}
	for k, v := range t.staged {
		merged[k] = v
	}
	return merged
}

func (t *memTx) FindByID(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tag, ok := t.staged[tagID]; ok {
		return tag.Clone(), nil
	}
	return t.base.findLocked(tagID)
}

func (t *memTx) FindForUpdate(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	return t.FindByID(ctx, tagID)
}

func (t *memTx) FindLinkedToProfile(_ context.Context, profileID id.ProfileID) ([]*models.Tag, error) {
	return filterTags(t.current(), func(tag *models.Tag) bool {
		return tag.Status.IsLinked() && tag.LinkedTo(profileID)
	}), nil
}

func (t *memTx) ListByProfile(_ context.Context, profileID id.ProfileID) ([]*models.Tag, error) {
	return filterTags(t.current(), func(tag *models.Tag) bool { return tag.LinkedTo(profileID) }), nil
}

func (t *memTx) Create(_ context.Context, tag *models.Tag) error {
	return createIn(t.base.tags, t.staged, tag)
}

func (t *memTx) Update(_ context.Context, tag *models.Tag) error {
	if _, ok := t.current()[tag.ID]; !ok {
		return sentinel.ErrNotFound
	}
	t.staged[tag.ID] = tag.Clone()
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, event models.Event) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memTx) ListEventsByProfile(_ context.Context, profileID id.ProfileID) ([]models.Event, error) {
	all := append(append([]models.Event(nil), t.base.events...), t.events...)
	return eventsFor(all, profileID), nil
}

func (t *memTx) RecordResolution(ctx context.Context, tagID id.TagID, at time.Time) error {
	tag, err := t.FindByID(ctx, tagID)
	if err != nil {
		return err
	}
	tag.LastResolvedAt = &at
	tag.AccessCount++
	t.staged[tagID] = tag
	return nil
}

func createIn(base, staged map[id.TagID]*models.Tag, tag *models.Tag) error {
	_, inBase := base[tag.ID]
	_, inStaged := staged[tag.ID]
	if inBase || inStaged {
		return fmt.Errorf("tag %s: %w", tag.ID, sentinel.ErrConflict)
	}
	if staged != nil {
		staged[tag.ID] = tag.Clone()
	} else {
		base[tag.ID] = tag.Clone()
	}
	return nil
}

func filterTags(tags map[id.TagID]*models.Tag, keep func(*models.Tag) bool) []*models.Tag {
	var out []*models.Tag
	for _, tag := range tags {
		if keep(tag) {
			out = append(out, tag.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func eventsFor(events []models.Event, profileID id.ProfileID) []models.Event {
	var out []models.Event
	for _, e := range events {
		if e.ProfileID != nil && *e.ProfileID == profileID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
