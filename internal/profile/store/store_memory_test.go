package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"lifetag/internal/policy"
	"lifetag/internal/profile/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	owner id.AccountID
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.owner = id.AccountID(uuid.New())
}

func (s *InMemoryStoreSuite) newProfile() *models.Profile {
	p, err := models.NewProfile(id.NewProfileID(), s.owner, time.Now())
	s.Require().NoError(err)
	return p
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	p := s.newProfile()
	s.Require().NoError(p.SetField("bloodType", "O+", policy.TierPublic, time.Now()))
	s.Require().NoError(s.store.Create(s.ctx, p))

	found, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.OwnerID, found.OwnerID)
	s.Equal("O+", found.Fields["bloodType"].Value)

	s.Run("duplicate create conflicts", func() {
		s.ErrorIs(s.store.Create(s.ctx, p), sentinel.ErrConflict)
	})

	s.Run("unknown profile not found", func() {
		_, err := s.store.FindByID(s.ctx, id.NewProfileID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestSaveDoesNotShareState() {
	p := s.newProfile()
	s.Require().NoError(s.store.Create(s.ctx, p))

	s.Require().NoError(p.SetField("allergies", "latex", policy.TierPublic, time.Now()))
	found, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.NotContains(found.Fields, "allergies")

	s.Require().NoError(s.store.Save(s.ctx, p))
	found, err = s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Contains(found.Fields, "allergies")
}

func (s *InMemoryStoreSuite) TestListByOwner() {
	s.Require().NoError(s.store.Create(s.ctx, s.newProfile()))
	s.Require().NoError(s.store.Create(s.ctx, s.newProfile()))
	other, err := models.NewProfile(id.NewProfileID(), id.AccountID(uuid.New()), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, other))

	list, err := s.store.ListByOwner(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Len(list, 2)
}

func (s *InMemoryStoreSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.store.FindByID(ctx, id.NewProfileID())
	s.ErrorIs(err, context.Canceled)
}
