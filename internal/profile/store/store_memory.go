package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lifetag/internal/profile/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

// InMemory keeps profiles in a map. Every read and write clones, so callers
// never share maps with the store.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.ProfileID]*models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[id.ProfileID]*models.Profile)}
}

func (s *InMemory) Create(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ID]; exists {
		return fmt.Errorf("profile %s: %w", p.ID, sentinel.ErrConflict)
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemory) Save(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *InMemory) ListByOwner(_ context.Context, owner id.AccountID) ([]*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Profile
	for _, p := range s.profiles {
		if p.OwnerID == owner {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
