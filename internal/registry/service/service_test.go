package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ProfileOwner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"lifetag/internal/registry/metrics"
	"lifetag/internal/registry/models"
	"lifetag/internal/registry/service/mocks"
	"lifetag/internal/registry/store"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

// =============================================================================
// Registry Service Test Suite
// =============================================================================
// Justification for unit tests: linkage and the status state machine are the
// gate in front of every emergency disclosure. Tests run against the real
// in-memory store so transaction atomicity is exercised, with profile
// ownership mocked.

type RegistryServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	profiles *mocks.MockProfileOwner
	store    *store.InMemory
	metrics  *metrics.Metrics
	service  *Service
	ctx      context.Context
	now      time.Time

	owner  id.AccountID
	p1, p2 id.ProfileID
	owners map[id.ProfileID]id.AccountID
}

func TestRegistryServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistryServiceSuite))
}

func (s *RegistryServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.profiles = mocks.NewMockProfileOwner(s.ctrl)
	s.store = store.NewInMemory()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.owner = id.AccountID(uuid.New())
	s.p1 = id.NewProfileID()
	s.p2 = id.NewProfileID()
	s.owners = map[id.ProfileID]id.AccountID{s.p1: s.owner, s.p2: s.owner}
	s.profiles.EXPECT().OwnerOf(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, profileID id.ProfileID) (id.AccountID, error) {
			owner, ok := s.owners[profileID]
			if !ok {
				return id.AccountID{}, dErrors.New(dErrors.CodeNotFound, "profile not found")
			}
			return owner, nil
		}).AnyTimes()

	clock := func() time.Time {
		s.now = s.now.Add(time.Second)
		return s.now
	}
	s.service = New(s.store, s.profiles,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithClock(clock),
	)
}

func (s *RegistryServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RegistryServiceSuite) ownerReq() models.Requester {
	return models.AccountRequester(s.owner, true)
}

func (s *RegistryServiceSuite) register(tagIDs ...id.TagID) {
	for _, tagID := range tagIDs {
		_, err := s.service.Register(s.ctx, tagID, models.SystemRequester())
		s.Require().NoError(err)
	}
}

func (s *RegistryServiceSuite) TestRegister() {
	s.Run("system registers unlinked tag", func() {
		tag, err := s.service.Register(s.ctx, "NEW-1", models.SystemRequester())
		s.Require().NoError(err)
		s.Equal(models.StatusUnlinked, tag.Status)
		s.Nil(tag.ProfileID)
	})

	s.Run("duplicate is conflict", func() {
		_, err := s.service.Register(s.ctx, "NEW-1", models.SystemRequester())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("accounts cannot register", func() {
		_, err := s.service.Register(s.ctx, "NEW-2", s.ownerReq())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *RegistryServiceSuite) TestResolveUnknownTag() {
	_, err := s.service.Resolve(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RegistryServiceSuite) TestLink() {
	s.register("T1")

	s.Run("requires entitlement", func() {
		_, err := s.service.Link(s.ctx, "T1", s.p1, models.AccountRequester(s.owner, false))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("requires profile ownership", func() {
		_, err := s.service.Link(s.ctx, "T1", s.p1, models.AccountRequester(id.AccountID(uuid.New()), true))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown profile is not owned", func() {
		_, err := s.service.Link(s.ctx, "T1", id.NewProfileID(), s.ownerReq())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("owner links unlinked tag", func() {
		tag, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
		s.Require().NoError(err)
		s.Equal(models.StatusActive, tag.Status)
		s.True(tag.LinkedTo(s.p1))
		s.NotNil(tag.LinkedAt)
	})

	s.Run("linking again to the same profile is a no-op", func() {
		tag, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
		s.Require().NoError(err)
		s.Equal(models.StatusActive, tag.Status)
		events, err := s.service.History(s.ctx, s.p1, s.ownerReq())
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("another owner gets already linked", func() {
		stranger := id.AccountID(uuid.New())
		foreign := id.NewProfileID()
		s.owners[foreign] = stranger
		_, err := s.service.Link(s.ctx, "T1", foreign, models.AccountRequester(stranger, true))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.InDelta(1, testutil.ToFloat64(s.metrics.LinkConflicts), 0)
	})
}

func (s *RegistryServiceSuite) TestRelinkRecordsUnlinkBeforeActive() {
	s.register("T1")
	_, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
	s.Require().NoError(err)

	tag, err := s.service.Link(s.ctx, "T1", s.p2, s.ownerReq())
	s.Require().NoError(err)
	s.True(tag.LinkedTo(s.p2))

	p1Events, err := s.service.History(s.ctx, s.p1, s.ownerReq())
	s.Require().NoError(err)
	s.Require().Len(p1Events, 2)
	s.Equal(models.StatusActive, p1Events[0].To)
	s.Equal(models.StatusUnlinked, p1Events[1].To)

	p2Events, err := s.service.History(s.ctx, s.p2, s.ownerReq())
	s.Require().NoError(err)
	s.Require().Len(p2Events, 1)
	s.Equal(models.StatusActive, p2Events[0].To)
	s.False(p2Events[0].At.Before(p1Events[1].At), "unlink from P1 precedes link to P2")
}

func (s *RegistryServiceSuite) TestReplaceBracelet() {
	s.register("OLD", "NEW")
	_, err := s.service.Link(s.ctx, "OLD", s.p1, s.ownerReq())
	s.Require().NoError(err)

	_, err = s.service.Link(s.ctx, "NEW", s.p1, s.ownerReq())
	s.Require().NoError(err)

	old, err := s.service.Resolve(s.ctx, "OLD")
	s.Require().NoError(err)
	s.Equal(models.StatusUnlinked, old.Status)
	s.Nil(old.ProfileID)

	fresh, err := s.service.Resolve(s.ctx, "NEW")
	s.Require().NoError(err)
	s.Equal(models.StatusActive, fresh.Status)

	events, err := s.service.History(s.ctx, s.p1, s.ownerReq())
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(id.TagID("OLD"), events[1].TagID)
	s.Equal(models.StatusUnlinked, events[1].To)
	s.Contains(events[1].Note, "NEW")
}

func (s *RegistryServiceSuite) TestStateMachine() {
	s.register("T1")

	s.Run("unlinked tags cannot be activated outside Link", func() {
		_, err := s.service.SetStatus(s.ctx, "T1", models.StatusActive, models.SystemRequester())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	_, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
	s.Require().NoError(err)

	s.Run("owner suspends without entitlement", func() {
		tag, err := s.service.SetStatus(s.ctx, "T1", models.StatusSuspended, models.AccountRequester(s.owner, false))
		s.Require().NoError(err)
		s.Equal(models.StatusSuspended, tag.Status)
	})

	s.Run("same status is a no-op", func() {
		tag, err := s.service.SetStatus(s.ctx, "T1", models.StatusSuspended, s.ownerReq())
		s.Require().NoError(err)
		s.Equal(models.StatusSuspended, tag.Status)
	})

	s.Run("restore requires entitlement", func() {
		_, err := s.service.SetStatus(s.ctx, "T1", models.StatusActive, models.AccountRequester(s.owner, false))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("non-owner is forbidden", func() {
		_, err := s.service.SetStatus(s.ctx, "T1", models.StatusRevoked, models.AccountRequester(id.AccountID(uuid.New()), true))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unlinked target is rejected", func() {
		_, err := s.service.SetStatus(s.ctx, "T1", models.StatusUnlinked, models.SystemRequester())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("revoke is terminal", func() {
		_, err := s.service.SetStatus(s.ctx, "T1", models.StatusRevoked, s.ownerReq())
		s.Require().NoError(err)

		_, err = s.service.SetStatus(s.ctx, "T1", models.StatusActive, models.SystemRequester())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		_, err = s.service.Link(s.ctx, "T1", s.p2, s.ownerReq())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.InDelta(1, testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("active", "suspended")), 0)
	s.InDelta(1, testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("suspended", "revoked")), 0)
}

func (s *RegistryServiceSuite) TestReregister() {
	s.register("T1")
	_, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
	s.Require().NoError(err)

	s.Run("only revoked tags", func() {
		_, err := s.service.Reregister(s.ctx, "T1", "warranty swap", models.SystemRequester())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	_, err = s.service.SetStatus(s.ctx, "T1", models.StatusRevoked, s.ownerReq())
	s.Require().NoError(err)

	s.Run("owners cannot re-register", func() {
		_, err := s.service.Reregister(s.ctx, "T1", "mine again", s.ownerReq())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("note is required", func() {
		_, err := s.service.Reregister(s.ctx, "T1", "  ", models.SystemRequester())
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("system re-registers with a recorded note", func() {
		tag, err := s.service.Reregister(s.ctx, "T1", "returned by customer", models.SystemRequester())
		s.Require().NoError(err)
		s.Equal(models.StatusUnlinked, tag.Status)
		s.Nil(tag.ProfileID)

		events, err := s.service.History(s.ctx, s.p1, s.ownerReq())
		s.Require().NoError(err)
		last := events[len(events)-1]
		s.Equal(models.StatusRevoked, last.From)
		s.Equal(models.StatusUnlinked, last.To)
		s.Equal("returned by customer", last.Note)
		s.Equal("system", last.Actor)
	})
}

func (s *RegistryServiceSuite) TestApplyEntitlement() {
	s.register("T1", "T2")
	_, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
	s.Require().NoError(err)

	tag, err := s.service.ApplyEntitlement(s.ctx, "T1", false)
	s.Require().NoError(err)
	s.Equal(models.StatusSuspended, tag.Status)

	tag, err = s.service.ApplyEntitlement(s.ctx, "T1", true)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, tag.Status)

	tag, err = s.service.ApplyEntitlement(s.ctx, "T2", true)
	s.Require().NoError(err)
	s.Equal(models.StatusUnlinked, tag.Status, "unlinked tags are not activated by billing")
}

func (s *RegistryServiceSuite) TestHistoryHidesForeignProfiles() {
	_, err := s.service.History(s.ctx, s.p1, models.AccountRequester(id.AccountID(uuid.New()), true))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RegistryServiceSuite) TestMarkResolved() {
	s.register("T1")
	s.service.MarkResolved(s.ctx, "T1", s.now)
	s.service.MarkResolved(s.ctx, "missing", s.now)

	tag, err := s.service.Resolve(s.ctx, "T1")
	s.Require().NoError(err)
	s.EqualValues(1, tag.AccessCount)
}

func (s *RegistryServiceSuite) TestConcurrentSuspendAndResolve() {
	s.register("T1")
	_, err := s.service.Link(s.ctx, "T1", s.p1, s.ownerReq())
	s.Require().NoError(err)

	var wg sync.WaitGroup
	statuses := make(chan models.Status, 50)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tag, err := s.service.Resolve(s.ctx, "T1")
			if err == nil {
				statuses <- tag.Status
			}
		}()
	}
	_, err = s.service.SetStatus(s.ctx, "T1", models.StatusSuspended, models.SystemRequester())
	s.Require().NoError(err)
	wg.Wait()
	close(statuses)

	for status := range statuses {
		s.Contains([]models.Status{models.StatusActive, models.StatusSuspended}, status)
	}
	tag, err := s.service.Resolve(s.ctx, "T1")
	s.Require().NoError(err)
	s.Equal(models.StatusSuspended, tag.Status)
}
