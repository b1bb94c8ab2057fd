package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newTag(tagID string) *models.Tag {
	return &models.Tag{ID: id.TagID(tagID), Status: models.StatusUnlinked, RegisteredAt: s.now}
}

func (s *InMemoryStoreSuite) TestCreateFind() {
	s.Require().NoError(s.store.Create(s.ctx, s.newTag("T1")))
	tag, err := s.store.FindByID(s.ctx, "T1")
	s.Require().NoError(err)
	s.Equal(models.StatusUnlinked, tag.Status)

	s.ErrorIs(s.store.Create(s.ctx, s.newTag("T1")), sentinel.ErrConflict)

	_, err = s.store.FindByID(s.ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestTxRollsBackOnError() {
	s.Require().NoError(s.store.Create(s.ctx, s.newTag("T1")))
	profile := id.NewProfileID()
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, func(tx Store) error {
		tag, err := tx.FindForUpdate(s.ctx, "T1")
		s.Require().NoError(err)
		tag.Status = models.StatusActive
		tag.ProfileID = &profile
		s.Require().NoError(tx.Update(s.ctx, tag))
		s.Require().NoError(tx.AppendEvent(s.ctx, models.NewEvent(tag, &profile, models.StatusUnlinked, models.StatusActive, "system", "", s.now)))

		inside, err := tx.FindByID(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal(models.StatusActive, inside.Status, "tx sees its own writes")
		return boom
	})
	s.ErrorIs(err, boom)

	tag, err := s.store.FindByID(s.ctx, "T1")
	s.Require().NoError(err)
	s.Equal(models.StatusUnlinked, tag.Status)
	events, err := s.store.ListEventsByProfile(s.ctx, profile)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *InMemoryStoreSuite) TestReadersNeverSeePartialTransaction() {
	s.Require().NoError(s.store.Create(s.ctx, s.newTag("A")))
	s.Require().NoError(s.store.Create(s.ctx, s.newTag("B")))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			a, _ := s.store.FindByID(s.ctx, "A")
			b, _ := s.store.FindByID(s.ctx, "B")
			// Both flip together; a reader may straddle two transactions but
			// must never observe a status that no transaction wrote.
			s.Contains([]models.Status{models.StatusUnlinked, models.StatusSuspended}, a.Status)
			s.Contains([]models.Status{models.StatusUnlinked, models.StatusSuspended}, b.Status)
		}
	}()

	for range 100 {
		err := s.store.RunInTx(s.ctx, func(tx Store) error {
			for _, tagID := range []id.TagID{"A", "B"} {
				tag, err := tx.FindForUpdate(s.ctx, tagID)
				if err != nil {
					return err
				}
				if tag.Status == models.StatusUnlinked {
					tag.Status = models.StatusSuspended
				} else {
					tag.Status = models.StatusUnlinked
				}
				if err := tx.Update(s.ctx, tag); err != nil {
					return err
				}
			}
			return nil
		})
		s.Require().NoError(err)
	}
	close(stop)
	wg.Wait()
}

func (s *InMemoryStoreSuite) TestRecordResolution() {
	s.Require().NoError(s.store.Create(s.ctx, s.newTag("T1")))
	s.Require().NoError(s.store.RecordResolution(s.ctx, "T1", s.now))
	s.Require().NoError(s.store.RecordResolution(s.ctx, "T1", s.now.Add(-time.Hour)))

	tag, err := s.store.FindByID(s.ctx, "T1")
	s.Require().NoError(err)
	s.EqualValues(2, tag.AccessCount)
	s.Equal(s.now, *tag.LastResolvedAt)

	s.ErrorIs(s.store.RecordResolution(s.ctx, "nope", s.now), sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestLinkedQueries() {
	profile := id.NewProfileID()
	active := s.newTag("A")
	active.Status = models.StatusActive
	active.ProfileID = &profile
	revoked := s.newTag("R")
	revoked.Status = models.StatusRevoked
	revoked.ProfileID = &profile
	s.Require().NoError(s.store.Create(s.ctx, active))
	s.Require().NoError(s.store.Create(s.ctx, revoked))

	linked, err := s.store.FindLinkedToProfile(s.ctx, profile)
	s.Require().NoError(err)
	s.Require().Len(linked, 1)
	s.Equal(id.TagID("A"), linked[0].ID)

	all, err := s.store.ListByProfile(s.ctx, profile)
	s.Require().NoError(err)
	s.Len(all, 2)
}
