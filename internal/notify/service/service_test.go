package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	ledgermodels "lifetag/internal/ledger/models"
	ledgerservice "lifetag/internal/ledger/service"
	ledgerstore "lifetag/internal/ledger/store"
	"lifetag/internal/notify/metrics"
	"lifetag/internal/notify/models"
	"lifetag/internal/notify/store"
	"lifetag/internal/platform/config"
	profilemodels "lifetag/internal/profile/models"
	profileservice "lifetag/internal/profile/service"
	profilestore "lifetag/internal/profile/store"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

// fakeSender records deliveries and fails for addresses in failing.
type fakeSender struct {
	mu      sync.Mutex
	failing map[string]bool
	sent    []string
}

func (f *fakeSender) Send(_ context.Context, ch models.Channel, _ string, _ models.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[ch.Address] {
		return errors.New("provider rejected message")
	}
	f.sent = append(f.sent, ch.Address)
	return nil
}

func (f *fakeSender) setFailing(addr string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[addr] = failing
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type DispatcherSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	owner    id.AccountID
	profiles *profileservice.Service
	ledger   *ledgerservice.Service
	store    *store.InMemory
	sender   *fakeSender
	metrics  *metrics.Metrics
	service  *Service
	profile  *profilemodels.Profile
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.owner = id.AccountID(uuid.New())
	s.profiles = profileservice.New(profilestore.NewInMemory())
	s.ledger = ledgerservice.New(ledgerstore.NewInMemory())
	s.store = store.NewInMemory()
	s.sender = &fakeSender{failing: map[string]bool{}}
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.service = s.newService(config.NotifyConfig{
		DedupBucket:  5 * time.Minute,
		MaxAttempts:  3,
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   10 * time.Minute,
		Workers:      2,
		IntakeBuffer: 8,
	})

	p, err := s.profiles.Create(s.ctx, s.owner)
	s.Require().NoError(err)
	s.profile, err = s.profiles.SetContacts(s.ctx, s.owner, p.ID, []profilemodels.Contact{
		{Name: "Sam", Relationship: "sibling", Kind: profilemodels.ContactEmail, Address: "sam@example.com", AccessAlerts: true},
		{Name: "Ari", Relationship: "partner", Kind: profilemodels.ContactSMS, Address: "+15550100", AccessAlerts: true},
		{Name: "Lee", Relationship: "friend", Kind: profilemodels.ContactEmail, Address: "lee@example.com"},
	})
	s.Require().NoError(err)
}

func (s *DispatcherSuite) newService(cfg config.NotifyConfig) *Service {
	return New(s.store, s.profiles, s.ledger, s.sender, cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *DispatcherSuite) record(at time.Time) *models.Event {
	ev, err := s.service.Record(s.ctx, id.NewAuditEntryID(), "TAG-1", s.profile.ID, at)
	s.Require().NoError(err)
	s.Require().NotNil(ev)
	return ev
}

// Justification: a burst of scans inside one dedup bucket must notify the
// owner once, while every access still gets its own event for the record.
func (s *DispatcherSuite) TestBurstNotifiesOnce() {
	const burst = 5
	states := map[models.State]int{}
	for i := range burst {
		ev := s.record(s.now.Add(time.Duration(i) * 10 * time.Second))
		states[ev.State]++
	}
	s.Equal(1, states[models.StatePending])
	s.Equal(burst-1, states[models.StateSuppressedDuplicate])

	delivered, err := s.service.Drain(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, delivered)
	s.ElementsMatch([]string{"sam@example.com", "+15550100"}, s.sender.sentTo())

	s.Equal(float64(burst-1), testutil.ToFloat64(s.metrics.Recorded.WithLabelValues("suppressed_duplicate")))
}

func (s *DispatcherSuite) TestOptedOutOwnerIsNotContacted() {
	_, err := s.profiles.SetContacts(s.ctx, s.owner, s.profile.ID, []profilemodels.Contact{
		{Name: "Sam", Kind: profilemodels.ContactEmail, Address: "sam@example.com"},
	})
	s.Require().NoError(err)

	ev := s.record(s.now)
	s.Equal(models.StateSuppressedOptedOut, ev.State)

	delivered, err := s.service.Drain(s.ctx)
	s.Require().NoError(err)
	s.Zero(delivered)
	s.Empty(s.sender.sentTo())
}

func (s *DispatcherSuite) TestReplayIsNoop() {
	auditID := id.NewAuditEntryID()
	first, err := s.service.Record(s.ctx, auditID, "TAG-1", s.profile.ID, s.now)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	again, err := s.service.Record(s.ctx, auditID, "TAG-1", s.profile.ID, s.now)
	s.Require().NoError(err)
	s.Nil(again)
}

func (s *DispatcherSuite) TestUnknownProfile() {
	_, err := s.service.Record(s.ctx, id.NewAuditEntryID(), "TAG-1", id.NewProfileID(), s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *DispatcherSuite) TestRetriesWithBackoffUntilTerminal() {
	s.sender.setFailing("sam@example.com", true)
	s.sender.setFailing("+15550100", true)
	ev := s.record(s.now)

	s.Run("first failure schedules a retry", func() {
		_, err := s.service.Drain(s.ctx)
		s.Require().NoError(err)
		events, err := s.service.ListForOwner(s.ctx, s.owner)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(models.StateFailed, events[0].State)
		s.False(events[0].Terminal)
		s.Equal(s.now.Add(30*time.Second), events[0].NextRetryAt)
	})

	s.Run("not retried before the backoff elapses", func() {
		s.now = s.now.Add(10 * time.Second)
		claimed, err := s.store.ClaimDue(s.ctx, s.now, time.Minute, 10)
		s.Require().NoError(err)
		s.Empty(claimed)
	})

	s.Run("terminal after max attempts", func() {
		s.now = s.now.Add(20 * time.Second)
		_, err := s.service.Drain(s.ctx)
		s.Require().NoError(err)
		s.now = s.now.Add(time.Minute)
		_, err = s.service.Drain(s.ctx)
		s.Require().NoError(err)

		events, err := s.service.ListForOwner(s.ctx, s.owner)
		s.Require().NoError(err)
		s.Equal(ev.ID, events[0].ID)
		s.Equal(3, events[0].Attempts)
		s.True(events[0].Terminal)
		s.Equal("provider rejected message", events[0].LastError)
	})

	s.Run("terminal failures are never resurrected", func() {
		s.sender.setFailing("sam@example.com", false)
		s.sender.setFailing("+15550100", false)
		s.now = s.now.Add(24 * time.Hour)
		delivered, err := s.service.Drain(s.ctx)
		s.Require().NoError(err)
		s.Zero(delivered)
		s.Empty(s.sender.sentTo())
	})
}

// Justification: a bucket holds at most one non-suppressed event, so a
// terminal failure still claims its bucket and later scans stay suppressed.
func (s *DispatcherSuite) TestTerminalFailureKeepsBucket() {
	s.sender.setFailing("sam@example.com", true)
	s.sender.setFailing("+15550100", true)
	first := s.record(s.now)

	for _, step := range []time.Duration{0, 30 * time.Second, time.Minute} {
		s.now = s.now.Add(step)
		_, err := s.service.Drain(s.ctx)
		s.Require().NoError(err)
	}
	events, err := s.service.ListForOwner(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(first.ID, events[0].ID)
	s.True(events[0].Terminal)

	later := s.record(s.now)
	s.Equal(models.StateSuppressedDuplicate, later.State)

	s.sender.setFailing("sam@example.com", false)
	s.sender.setFailing("+15550100", false)
	delivered, err := s.service.Drain(s.ctx)
	s.Require().NoError(err)
	s.Zero(delivered)
	s.Empty(s.sender.sentTo())
}

func (s *DispatcherSuite) TestPartialDeliveryRetriesRemainingChannel() {
	s.sender.setFailing("+15550100", true)
	s.record(s.now)

	_, err := s.service.Drain(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"sam@example.com"}, s.sender.sentTo())

	s.sender.setFailing("+15550100", false)
	s.now = s.now.Add(time.Minute)
	delivered, err := s.service.Drain(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, delivered)
	s.Equal([]string{"sam@example.com", "+15550100"}, s.sender.sentTo())
}

func (s *DispatcherSuite) appendGranted(at time.Time) ledgermodels.Entry {
	profileID := s.profile.ID
	entry := ledgermodels.Entry{
		ID:        id.NewAuditEntryID(),
		TagID:     "TAG-1",
		ProfileID: &profileID,
		OwnerID:   &s.owner,
		Outcome:   ledgermodels.OutcomeGranted,
		Timestamp: at,
	}
	_, err := s.ledger.Append(s.ctx, entry)
	s.Require().NoError(err)
	return entry
}

// Justification: an intake handoff lost to a full buffer or a crash must
// still produce a notification once the reconciler runs.
func (s *DispatcherSuite) TestReconcileRecoversLostIntake() {
	recorded := s.appendGranted(s.now.Add(-20 * time.Minute))
	_, err := s.service.Record(s.ctx, recorded.ID, recorded.TagID, *recorded.ProfileID, recorded.Timestamp)
	s.Require().NoError(err)

	lost := s.appendGranted(s.now.Add(-10 * time.Minute))
	s.appendGranted(s.now.Add(-5 * time.Second))
	s.appendGranted(s.now.Add(-2 * time.Hour))

	n, err := s.service.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	missing, err := s.store.MissingAuditEntries(s.ctx, []id.AuditEntryID{lost.ID})
	s.Require().NoError(err)
	s.Empty(missing)

	n, err = s.service.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Zero(n, "reconcile is idempotent")
}

// Justification: a full reconcile batch sharing one timestamp must not stop
// the scan before the rest of the window.
func (s *DispatcherSuite) TestReconcilePagesPastEqualTimestamps() {
	s.service = s.newService(config.NotifyConfig{
		DedupBucket:       5 * time.Minute,
		IntakeBuffer:      8,
		ReconcileLookback: time.Hour,
		ReconcileGrace:    time.Minute,
	})
	at := s.now.Add(-10 * time.Minute)
	total := reconcileBatch + 3
	ids := make([]id.AuditEntryID, 0, total)
	for range total {
		ids = append(ids, s.appendGranted(at).ID)
	}

	n, err := s.service.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(total, n)

	missing, err := s.store.MissingAuditEntries(s.ctx, ids)
	s.Require().NoError(err)
	s.Empty(missing)
}

func (s *DispatcherSuite) TestEnqueueNeverBlocks() {
	svc := s.newService(config.NotifyConfig{IntakeBuffer: 1})
	s.True(svc.Enqueue(s.ctx, id.NewAuditEntryID(), "TAG-1", s.profile.ID))
	s.False(svc.Enqueue(s.ctx, id.NewAuditEntryID(), "TAG-1", s.profile.ID))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IntakeDropped))
}

func (s *DispatcherSuite) TestRunDeliversAndStopsOnCancel() {
	svc := s.newService(config.NotifyConfig{
		Workers:        2,
		PollInterval:   10 * time.Millisecond,
		ReconcileGrace: time.Hour,
	})
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	s.True(svc.Enqueue(ctx, id.NewAuditEntryID(), "TAG-1", s.profile.ID))
	s.Eventually(func() bool { return len(s.sender.sentTo()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("Run did not return after cancellation")
	}
}
