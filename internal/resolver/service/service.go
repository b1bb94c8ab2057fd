package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ledgermodels "lifetag/internal/ledger/models"
	"lifetag/internal/policy"
	profilemodels "lifetag/internal/profile/models"
	ratelimitmodels "lifetag/internal/ratelimit/models"
	registrymodels "lifetag/internal/registry/models"
	"lifetag/internal/resolver/metrics"
	"lifetag/internal/resolver/models"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Registry,Profiles,Ledger,Notifier,Limiter,Proofs

const DefaultStorageTimeout = 2 * time.Second

// Registry resolves tags to their current link and status.
type Registry interface {
	Resolve(ctx context.Context, tagID id.TagID) (*registrymodels.Tag, error)
	MarkResolved(ctx context.Context, tagID id.TagID, at time.Time)
}

// Profiles loads profiles and checks caregiver PINs.
type Profiles interface {
	Get(ctx context.Context, profileID id.ProfileID) (*profilemodels.Profile, error)
	VerifyPIN(ctx context.Context, profileID id.ProfileID, pin string) error
}

// Ledger is the append-only audit trail.
type Ledger interface {
	Append(ctx context.Context, entry ledgermodels.Entry) (id.AuditEntryID, error)
}

// Notifier accepts a granted access for asynchronous owner notification.
type Notifier interface {
	Enqueue(ctx context.Context, auditEntryID id.AuditEntryID, tagID id.TagID, profileID id.ProfileID) bool
}

// Limiter throttles attempts per tag.
type Limiter interface {
	Allow(ctx context.Context, tagID id.TagID) (ratelimitmodels.Result, error)
}

// Proofs mints and verifies proof tokens.
type Proofs interface {
	Issue(profileID id.ProfileID) (string, time.Time, error)
	Verify(token string, now time.Time) (*policy.Proof, error)
}

// Service answers emergency view requests. Every call to
// ResolveEmergencyView appends exactly one audit entry, whatever the outcome.
type Service struct {
	registry       Registry
	profiles       Profiles
	ledger         Ledger
	notifier       Notifier
	limiter        Limiter
	proofs         Proofs
	storageTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func() time.Time
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

// WithStorageTimeout bounds each registry, profile and ledger call.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storageTimeout = d
		}
	}
}

func New(registry Registry, profiles Profiles, ledger Ledger, notifier Notifier, limiter Limiter, proofs Proofs, opts ...Option) *Service {
	s := &Service{
		registry:       registry,
		profiles:       profiles,
		ledger:         ledger,
		notifier:       notifier,
		limiter:        limiter,
		proofs:         proofs,
		storageTimeout: DefaultStorageTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("lifetag/resolver"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveEmergencyView returns the redacted profile behind tagID. Denials are
// returned as *models.Denied. Any other error means the outcome could not be
// recorded or storage failed, and carries CodeUnavailable.
func (s *Service) ResolveEmergencyView(ctx context.Context, tagID id.TagID, proofToken string, meta models.RequestMeta) (*policy.RedactedProfile, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "resolver.resolve", trace.WithAttributes(
		attribute.String("tag.id", tagID.String()),
		attribute.Bool("proof.presented", proofToken != ""),
	))
	defer span.End()

	entry := ledgermodels.Entry{
		ID:             id.NewAuditEntryID(),
		TagID:          tagID,
		Origin:         meta.Origin,
		UserAgentClass: meta.UserAgentClass,
		RequestID:      meta.RequestID,
	}

	view, err := s.resolve(ctx, tagID, proofToken, &entry)
	outcome := entry.Outcome
	if appendErr := s.appendEntry(ctx, entry); appendErr != nil {
		view, err = nil, appendErr
		outcome = "audit_failed"
	}

	if err == nil {
		s.notifier.Enqueue(ctx, entry.ID, tagID, *entry.ProfileID)
		s.markResolved(ctx, tagID, entry.Timestamp)
	}

	s.metrics.IncrementResolution(string(outcome))
	s.metrics.ObserveResolutionLatency(s.now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("resolution.outcome", string(outcome)))
	if err != nil {
		if _, denied := models.AsDenied(err); !denied {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.logger.InfoContext(ctx, "emergency view resolved",
		"request_id", meta.RequestID,
		"tag_id", tagID,
		"outcome", outcome,
		"origin", meta.Origin,
	)
	return view, err
}

// ResolveMalformed records a request whose tag segment can never name a tag.
// It passes the same rate limit and writes the same single audit entry as
// any other attempt. The result is a *models.Denied or an audit failure.
func (s *Service) ResolveMalformed(ctx context.Context, raw string, meta models.RequestMeta) error {
	start := s.now()
	key := malformedTagKey(raw)
	ctx, span := s.tracer.Start(ctx, "resolver.resolve_malformed", trace.WithAttributes(
		attribute.String("tag.id", key.String()),
	))
	defer span.End()

	entry := ledgermodels.Entry{
		ID:             id.NewAuditEntryID(),
		TagID:          key,
		Origin:         meta.Origin,
		UserAgentClass: meta.UserAgentClass,
		RequestID:      meta.RequestID,
	}
	var err error
	if denied := s.checkRate(ctx, key); denied != nil {
		entry.Outcome = denied.Reason.Outcome()
		err = denied
	} else {
		err = deny(&entry, models.ReasonInvalidTag)
	}

	outcome := entry.Outcome
	if appendErr := s.appendEntry(ctx, entry); appendErr != nil {
		err = appendErr
		outcome = "audit_failed"
		span.SetStatus(codes.Error, appendErr.Error())
	}

	s.metrics.IncrementResolution(string(outcome))
	s.metrics.ObserveResolutionLatency(s.now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("resolution.outcome", string(outcome)))
	s.logger.InfoContext(ctx, "malformed tag rejected",
		"request_id", meta.RequestID,
		"tag_id", key,
		"outcome", outcome,
		"origin", meta.Origin,
	)
	return err
}

// maxRecordedTagLen matches the longest valid tag ID.
const maxRecordedTagLen = 64

// malformedTagKey bounds raw to maxRecordedTagLen bytes of printable ASCII.
// Other characters become '?', and a cut value ends in '~'. Neither is legal
// in a tag ID, so the key never names a real tag.
func malformedTagKey(raw string) id.TagID {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() >= maxRecordedTagLen-1 {
			b.WriteByte('~')
			break
		}
		if r > ' ' && r < 0x7f {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	if b.Len() == 0 {
		return "~"
	}
	return id.TagID(b.String())
}

// resolve fills entry with the outcome and disclosure. It never appends.
func (s *Service) resolve(ctx context.Context, tagID id.TagID, proofToken string, entry *ledgermodels.Entry) (*policy.RedactedProfile, error) {
	if denied := s.checkRate(ctx, tagID); denied != nil {
		entry.Outcome = denied.Reason.Outcome()
		return nil, denied
	}

	tag, err := s.resolveTag(ctx, tagID)
	if err != nil {
		return nil, s.storageFailure(ctx, entry, tagID, "tag lookup failed", err)
	}
	if tag.ProfileID != nil {
		entry.ProfileID = tag.ProfileID
	}

	switch tag.Status {
	case registrymodels.StatusActive:
	case registrymodels.StatusSuspended:
		s.attributeOwner(ctx, entry)
		return nil, deny(entry, models.ReasonSuspended)
	case registrymodels.StatusRevoked:
		s.attributeOwner(ctx, entry)
		return nil, deny(entry, models.ReasonRevoked)
	default:
		return nil, deny(entry, models.ReasonInvalidTag)
	}
	if tag.ProfileID == nil {
		s.logger.ErrorContext(ctx, "active tag without profile", "tag_id", tagID)
		return nil, deny(entry, models.ReasonInvalidTag)
	}

	profile, err := s.loadProfile(ctx, *tag.ProfileID)
	if err != nil {
		return nil, s.storageFailure(ctx, entry, tagID, "profile lookup failed", err)
	}
	owner := profile.OwnerID
	entry.OwnerID = &owner

	now := s.now()
	decision := policy.Evaluate(profile, s.verifyProof(ctx, tagID, proofToken, now), now)
	if len(decision.Violations) > 0 {
		s.metrics.AddPolicyViolations(len(decision.Violations))
		s.logger.WarnContext(ctx, "fields with unknown tier withheld",
			"tag_id", tagID,
			"profile_id", profile.ID,
			"fields", decision.Violations,
		)
	}
	view := policy.Redact(profile, decision.Fields, decision.Elevated)

	entry.Outcome = ledgermodels.OutcomeGranted
	entry.Timestamp = now
	entry.DisclosedFields = view.Names()
	entry.FieldTiers = make(map[string]string, len(view.Fields))
	for _, f := range view.Fields {
		entry.FieldTiers[f.Name] = f.Tier.String()
	}
	return &view, nil
}

func (s *Service) markResolved(ctx context.Context, tagID id.TagID, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()
	s.registry.MarkResolved(ctx, tagID, at)
}

// checkRate fails open: a limiter error never blocks emergency access.
func (s *Service) checkRate(ctx context.Context, tagID id.TagID) *models.Denied {
	result, err := s.limiter.Allow(ctx, tagID)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable, allowing request",
			"tag_id", tagID,
			"error", err,
		)
		return nil
	}
	if !result.Allowed {
		return &models.Denied{Reason: models.ReasonRateLimited, RetryAt: result.ResetAt}
	}
	return nil
}

func (s *Service) resolveTag(ctx context.Context, tagID id.TagID) (*registrymodels.Tag, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return s.registry.Resolve(ctx, tagID)
}

func (s *Service) loadProfile(ctx context.Context, profileID id.ProfileID) (*profilemodels.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return s.profiles.Get(ctx, profileID)
}

// attributeOwner sets the owner on a denial so it shows up on the owner's
// audit page. Failure leaves the entry unattributed.
func (s *Service) attributeOwner(ctx context.Context, entry *ledgermodels.Entry) {
	if entry.ProfileID == nil {
		return
	}
	profile, err := s.loadProfile(ctx, *entry.ProfileID)
	if err != nil {
		s.logger.DebugContext(ctx, "could not attribute denial to owner", "tag_id", entry.TagID, "error", err)
		return
	}
	owner := profile.OwnerID
	entry.OwnerID = &owner
}

// storageFailure classifies a lookup error. Unknown tags are invalid_tag;
// deadlines fail closed as an unavailable denial; anything else is a storage
// outage reported to the caller after the attempt is audited.
func (s *Service) storageFailure(ctx context.Context, entry *ledgermodels.Entry, tagID id.TagID, msg string, err error) error {
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		return deny(entry, models.ReasonInvalidTag)
	case isTimeout(err):
		s.logger.WarnContext(ctx, msg+", failing closed", "tag_id", tagID, "error", err)
		return deny(entry, models.ReasonUnavailable)
	default:
		s.logger.ErrorContext(ctx, msg, "tag_id", tagID, "error", err)
		entry.Outcome = ledgermodels.OutcomeDeniedUnavailable
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	}
}

func (s *Service) verifyProof(ctx context.Context, tagID id.TagID, token string, now time.Time) *policy.Proof {
	if token == "" {
		return nil
	}
	proof, err := s.proofs.Verify(token, now)
	if err != nil {
		// An unusable proof only means no elevation.
		s.logger.DebugContext(ctx, "proof token ignored", "tag_id", tagID, "error", err)
		return nil
	}
	return proof
}

// appendEntry is detached from the caller's cancellation: a viewer that
// disconnects or a request deadline that fires must still leave a record.
func (s *Service) appendEntry(ctx context.Context, entry ledgermodels.Entry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if _, err := s.ledger.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed, withholding response",
			"request_id", entry.RequestID,
			"tag_id", entry.TagID,
			"outcome", entry.Outcome,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	}
	return nil
}

// ExchangePIN trades a caregiver PIN for a proof token on an active tag.
// Every failure other than rate limiting or an outage is the same
// CodeUnauthorized error, so callers learn nothing about the tag.
func (s *Service) ExchangePIN(ctx context.Context, tagID id.TagID, pin string, meta models.RequestMeta) (*models.ProofGrant, error) {
	ctx, span := s.tracer.Start(ctx, "resolver.exchange_pin", trace.WithAttributes(
		attribute.String("tag.id", tagID.String()),
	))
	defer span.End()

	grant, result, err := s.exchange(ctx, tagID, pin)
	s.metrics.IncrementProofExchange(result)
	span.SetAttributes(attribute.String("exchange.result", result))
	logAttrs := []any{"request_id", meta.RequestID, "tag_id", tagID, "result", result, "origin", meta.Origin}
	if err != nil {
		s.logger.WarnContext(ctx, "proof exchange refused", append(logAttrs, "error", err)...)
		return nil, err
	}
	s.logger.InfoContext(ctx, "proof issued", logAttrs...)
	return grant, nil
}

func (s *Service) exchange(ctx context.Context, tagID id.TagID, pin string) (*models.ProofGrant, string, error) {
	if denied := s.checkRate(ctx, tagID); denied != nil {
		return nil, "rate_limited", denied
	}
	rejected := dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

	tag, err := s.resolveTag(ctx, tagID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, "rejected", rejected
		}
		return nil, "unavailable", dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	}
	if tag.Status != registrymodels.StatusActive || tag.ProfileID == nil {
		return nil, "rejected", rejected
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	if err := s.profiles.VerifyPIN(verifyCtx, *tag.ProfileID, pin); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, "rejected", rejected
		}
		return nil, "unavailable", dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	}

	token, expiresAt, err := s.proofs.Issue(*tag.ProfileID)
	if err != nil {
		return nil, "error", dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue proof")
	}
	return &models.ProofGrant{Token: token, ExpiresAt: expiresAt}, "issued", nil
}

func deny(entry *ledgermodels.Entry, reason models.Reason) *models.Denied {
	entry.Outcome = reason.Outcome()
	return &models.Denied{Reason: reason}
}

func isTimeout(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeTimeout) || errors.Is(err, context.DeadlineExceeded)
}
