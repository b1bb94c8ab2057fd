package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lifetag/internal/policy"
	"lifetag/internal/profile/models"
	"lifetag/internal/profile/pin"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/sentinel"
)

type Store interface {
	Create(ctx context.Context, p *models.Profile) error
	FindByID(ctx context.Context, profileID id.ProfileID) (*models.Profile, error)
	Save(ctx context.Context, p *models.Profile) error
	ListByOwner(ctx context.Context, owner id.AccountID) ([]*models.Profile, error)
}

// Service owns profile reads for the resolver and owner-side edits.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads a profile for the emergency path. Storage errors keep their
// cause so callers can tell deadlines apart.
func (s *Service) Get(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	p, err := s.store.FindByID(ctx, profileID)
	if err != nil {
		return nil, translate(err, "failed to load profile")
	}
	return p, nil
}

// OwnerOf returns the owning account of a profile.
func (s *Service) OwnerOf(ctx context.Context, profileID id.ProfileID) (id.AccountID, error) {
	p, err := s.Get(ctx, profileID)
	if err != nil {
		return id.AccountID{}, err
	}
	return p.OwnerID, nil
}

func (s *Service) Create(ctx context.Context, owner id.AccountID) (*models.Profile, error) {
	p, err := models.NewProfile(id.NewProfileID(), owner, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, translate(err, "failed to create profile")
	}
	s.logger.InfoContext(ctx, "profile created", "profile_id", p.ID, "owner_id", owner)
	return p, nil
}

// OwnerView returns every field, private ones included. It bypasses the
// policy engine and is only reachable by the owner.
func (s *Service) OwnerView(ctx context.Context, owner id.AccountID, profileID id.ProfileID) (*models.Profile, error) {
	return s.loadOwned(ctx, owner, profileID)
}

func (s *Service) ListForOwner(ctx context.Context, owner id.AccountID) ([]*models.Profile, error) {
	list, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, translate(err, "failed to list profiles")
	}
	return list, nil
}

// SetField creates or updates a field. A tier change applies to the next
// resolution immediately.
func (s *Service) SetField(ctx context.Context, owner id.AccountID, profileID id.ProfileID, name, value, tier string) (*models.Profile, error) {
	parsed, ok := policy.ParseTier(tier)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "tier must be public, protected or private")
	}
	return s.mutate(ctx, owner, profileID, func(p *models.Profile, now time.Time) error {
		return p.SetField(name, value, parsed, now)
	})
}

func (s *Service) RemoveField(ctx context.Context, owner id.AccountID, profileID id.ProfileID, name string) (*models.Profile, error) {
	return s.mutate(ctx, owner, profileID, func(p *models.Profile, now time.Time) error {
		return p.RemoveField(name, now)
	})
}

func (s *Service) SetContacts(ctx context.Context, owner id.AccountID, profileID id.ProfileID, contacts []models.Contact) (*models.Profile, error) {
	return s.mutate(ctx, owner, profileID, func(p *models.Profile, now time.Time) error {
		return p.SetContacts(contacts, now)
	})
}

// SetPIN stores a bcrypt hash of the caregiver PIN.
func (s *Service) SetPIN(ctx context.Context, owner id.AccountID, profileID id.ProfileID, plain string) error {
	hash, err := pin.Hash(plain)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, owner, profileID, func(p *models.Profile, now time.Time) error {
		p.PINHash = hash
		p.UpdatedAt = now
		return nil
	})
	return err
}

// VerifyPIN checks a caregiver PIN. Any mismatch, including a profile without
// a PIN, is CodeUnauthorized.
func (s *Service) VerifyPIN(ctx context.Context, profileID id.ProfileID, plain string) error {
	p, err := s.Get(ctx, profileID)
	if err != nil {
		return err
	}
	return pin.Verify(plain, p.PINHash)
}

func (s *Service) mutate(ctx context.Context, owner id.AccountID, profileID id.ProfileID, fn func(p *models.Profile, now time.Time) error) (*models.Profile, error) {
	p, err := s.loadOwned(ctx, owner, profileID)
	if err != nil {
		return nil, err
	}
	if err := fn(p, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, translate(err, "failed to save profile")
	}
	s.logger.InfoContext(ctx, "profile updated", "profile_id", p.ID)
	return p, nil
}

func (s *Service) loadOwned(ctx context.Context, owner id.AccountID, profileID id.ProfileID) (*models.Profile, error) {
	p, err := s.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !p.IsOwnedBy(owner) {
		// Same answer as a missing profile: owners cannot probe other profiles.
		return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	return p, nil
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "profile already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
