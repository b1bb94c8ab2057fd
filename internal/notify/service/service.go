package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	ledgermodels "lifetag/internal/ledger/models"
	"lifetag/internal/notify/metrics"
	"lifetag/internal/notify/models"
	"lifetag/internal/notify/sender"
	"lifetag/internal/notify/store"
	"lifetag/internal/platform/config"
	profilemodels "lifetag/internal/profile/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/sentinel"
)

const (
	ownerListLimit  = 100
	reconcileBatch  = 500
	deliveryTimeout = 30 * time.Second
)

// ProfileReader loads the profile whose contacts receive alerts.
type ProfileReader interface {
	Get(ctx context.Context, profileID id.ProfileID) (*profilemodels.Profile, error)
}

// GrantedSource lists granted audit entries for reconciliation.
type GrantedSource interface {
	ListGrantedSince(ctx context.Context, since, until time.Time, after *ledgermodels.Cursor, limit int) ([]ledgermodels.Entry, error)
}

type intake struct {
	auditEntryID id.AuditEntryID
	tagID        id.TagID
	profileID    id.ProfileID
	at           time.Time
}

// Service records "profile accessed" events and delivers them to the owner's
// alert contacts. Events are durable before delivery is attempted; the
// emergency path only ever performs the non-blocking Enqueue.
type Service struct {
	store    store.Store
	profiles ProfileReader
	ledger   GrantedSource
	sender   sender.Sender
	cfg      config.NotifyConfig
	backoff  func(attempt int) time.Duration
	intake   chan intake
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, profiles ProfileReader, ledger GrantedSource, snd sender.Sender, cfg config.NotifyConfig, opts ...Option) *Service {
	cfg = withDefaults(cfg)
	s := &Service{
		store:    st,
		profiles: profiles,
		ledger:   ledger,
		sender:   snd,
		cfg:      cfg,
		backoff:  models.Backoff(cfg.BaseBackoff, cfg.MaxBackoff),
		intake:   make(chan intake, cfg.IntakeBuffer),
		logger:   slog.Default(),
		tracer:   otel.Tracer("lifetag/notify"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func withDefaults(cfg config.NotifyConfig) config.NotifyConfig {
	if cfg.DedupBucket <= 0 {
		cfg.DedupBucket = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.IntakeBuffer <= 0 {
		cfg.IntakeBuffer = 1024
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.ReconcileLookback <= 0 {
		cfg.ReconcileLookback = time.Hour
	}
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = 30 * time.Second
	}
	if cfg.TemplateID == "" {
		cfg.TemplateID = "profile-accessed-v1"
	}
	return cfg
}

// Enqueue hands a granted access to the intake workers without blocking.
// It returns false when the buffer is full; Reconcile picks the entry up
// later from the ledger.
func (s *Service) Enqueue(ctx context.Context, auditEntryID id.AuditEntryID, tagID id.TagID, profileID id.ProfileID) bool {
	select {
	case s.intake <- intake{auditEntryID: auditEntryID, tagID: tagID, profileID: profileID, at: s.now()}:
		return true
	default:
		s.metrics.IncrementIntakeDropped()
		s.logger.WarnContext(ctx, "notification intake full",
			"audit_entry_id", auditEntryID,
			"tag_id", tagID,
		)
		return false
	}
}

// Record persists the event for one granted access. Channels come from the
// owner's contacts that opted into access alerts. A second call for the same
// audit entry is a no-op and returns a nil event.
func (s *Service) Record(ctx context.Context, auditEntryID id.AuditEntryID, tagID id.TagID, profileID id.ProfileID, at time.Time) (*models.Event, error) {
	profile, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, translate(err, "failed to load profile contacts")
	}
	ev, err := models.NewEvent(auditEntryID, tagID, profileID, profile.OwnerID, alertChannels(profile), s.cfg.DedupBucket, at)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Insert(ctx, ev)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.DebugContext(ctx, "notification already recorded", "audit_entry_id", auditEntryID)
			return nil, nil
		}
		return nil, translate(err, "failed to record notification")
	}
	s.metrics.IncrementRecorded(string(stored.State))
	s.logger.InfoContext(ctx, "notification recorded",
		"notification_id", stored.ID,
		"tag_id", tagID,
		"state", stored.State,
	)
	return stored, nil
}

func alertChannels(p *profilemodels.Profile) []models.Channel {
	var channels []models.Channel
	for _, c := range p.AlertContacts() {
		switch c.Kind {
		case profilemodels.ContactEmail:
			channels = append(channels, models.Channel{Kind: models.ChannelEmail, Address: c.Address})
		case profilemodels.ContactSMS:
			channels = append(channels, models.Channel{Kind: models.ChannelSMS, Address: c.Address})
		}
	}
	return channels
}

// Drain runs one delivery pass over due events and returns how many were
// delivered.
func (s *Service) Drain(ctx context.Context) (int, error) {
	events, err := s.store.ClaimDue(ctx, s.now(), s.cfg.Lease, s.cfg.BatchSize)
	if err != nil {
		return 0, translate(err, "failed to claim notifications")
	}
	if len(events) == 0 {
		return 0, nil
	}

	results := make([]bool, len(events))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, ev := range events {
		g.Go(func() error {
			results[i] = s.deliver(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	delivered := 0
	for _, ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

func (s *Service) deliver(ctx context.Context, ev *models.Event) bool {
	ctx, span := s.tracer.Start(ctx, "notify.deliver", trace.WithAttributes(
		attribute.String("notification.id", ev.ID.String()),
		attribute.Int("notification.attempt", ev.Attempts+1),
	))
	defer span.End()

	start := s.now()
	if err := ev.BeginAttempt(start); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	var lastErr string
	for _, ch := range ev.Undelivered() {
		if err := s.sender.Send(sendCtx, ch, s.cfg.TemplateID, ev.Payload()); err != nil {
			lastErr = err.Error()
			continue
		}
		ev.MarkChannelDelivered(ch)
	}

	now := s.now()
	ev.Complete(now, lastErr, s.cfg.MaxAttempts, s.backoff)
	s.metrics.ObserveDeliveryDuration(now.Sub(start).Seconds())
	span.SetAttributes(attribute.String("notification.state", string(ev.State)))

	if err := s.store.Update(ctx, ev); err != nil {
		// The lease expires and the event is retried; channels already sent
		// may be sent again.
		s.logger.ErrorContext(ctx, "failed to save notification state",
			"notification_id", ev.ID,
			"error", err,
		)
		span.SetStatus(codes.Error, "update failed")
		return false
	}

	switch {
	case ev.State == models.StateDelivered:
		s.metrics.IncrementDeliveries("delivered")
		return true
	case ev.Terminal:
		s.metrics.IncrementDeliveries("terminal")
		span.SetStatus(codes.Error, lastErr)
		s.logger.ErrorContext(ctx, "notification failed permanently",
			"notification_id", ev.ID,
			"tag_id", ev.TagID,
			"attempts", ev.Attempts,
			"error", lastErr,
		)
	default:
		s.metrics.IncrementDeliveries("retry")
		s.logger.WarnContext(ctx, "notification delivery failed, will retry",
			"notification_id", ev.ID,
			"attempts", ev.Attempts,
			"next_retry_at", ev.NextRetryAt,
			"error", lastErr,
		)
	}
	return false
}

// Reconcile records events for granted entries in the lookback window that
// never reached the store, for example because the intake buffer was full or
// the process stopped before persisting. Entries younger than the grace period
// are left to the intake workers.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	now := s.now()
	since := now.Add(-s.cfg.ReconcileLookback)
	until := now.Add(-s.cfg.ReconcileGrace)

	recovered := 0
	var cursor *ledgermodels.Cursor
	for since.Before(until) {
		entries, err := s.ledger.ListGrantedSince(ctx, since, until, cursor, reconcileBatch)
		if err != nil {
			return recovered, err
		}
		n, err := s.recoverMissing(ctx, entries)
		recovered += n
		if err != nil {
			return recovered, err
		}
		if len(entries) < reconcileBatch {
			break
		}
		cursor = ledgermodels.CursorOf(entries[len(entries)-1])
	}
	if recovered > 0 {
		s.metrics.AddReconciled(recovered)
		s.logger.WarnContext(ctx, "reconciled missing notifications", "count", recovered)
	}
	return recovered, nil
}

func (s *Service) recoverMissing(ctx context.Context, entries []ledgermodels.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	ids := make([]id.AuditEntryID, len(entries))
	byID := make(map[id.AuditEntryID]ledgermodels.Entry, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		byID[e.ID] = e
	}
	missing, err := s.store.MissingAuditEntries(ctx, ids)
	if err != nil {
		return 0, translate(err, "failed to check recorded notifications")
	}
	recovered := 0
	for _, auditID := range missing {
		e := byID[auditID]
		if e.ProfileID == nil {
			continue
		}
		ev, err := s.Record(ctx, e.ID, e.TagID, *e.ProfileID, e.Timestamp)
		if err != nil {
			return recovered, err
		}
		if ev != nil {
			recovered++
		}
	}
	return recovered, nil
}

// ListForOwner returns the owner's most recent events, newest first.
func (s *Service) ListForOwner(ctx context.Context, owner id.AccountID) ([]*models.Event, error) {
	events, err := s.store.ListByOwner(ctx, owner, ownerListLimit)
	if err != nil {
		return nil, translate(err, "failed to list notifications")
	}
	return events, nil
}

// Run starts the intake workers and the delivery and reconcile loops. It
// returns nil once ctx is cancelled. Undelivered events stay in the store.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range s.cfg.Workers {
		g.Go(func() error {
			s.runIntake(ctx)
			return nil
		})
	}
	g.Go(func() error {
		s.loop(ctx, s.cfg.PollInterval, "drain", func(ctx context.Context) error {
			_, err := s.Drain(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, s.cfg.ReconcileGrace, "reconcile", func(ctx context.Context) error {
			_, err := s.Reconcile(ctx)
			return err
		})
		return nil
	})
	return g.Wait()
}

func (s *Service) runIntake(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.intake:
			if _, err := s.Record(ctx, item.auditEntryID, item.tagID, item.profileID, item.at); err != nil {
				s.logger.ErrorContext(ctx, "failed to record notification",
					"audit_entry_id", item.auditEntryID,
					"tag_id", item.tagID,
					"error", err,
				)
			}
		}
	}
}

func (s *Service) loop(ctx context.Context, every time.Duration, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "notification "+name+" pass failed", "error", err)
			}
		}
	}
}

func translate(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
