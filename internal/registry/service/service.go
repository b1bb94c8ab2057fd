package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lifetag/internal/registry/metrics"
	"lifetag/internal/registry/models"
	"lifetag/internal/registry/store"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/sentinel"
)

// ProfileOwner answers who owns a profile. The profile service implements it.
type ProfileOwner interface {
	OwnerOf(ctx context.Context, profileID id.ProfileID) (id.AccountID, error)
}

// Service is the authority on tag to profile linkage and tag status. Every
// mutation runs inside one store transaction so concurrent resolutions see
// either the old or the new state of a tag, never a mix.
type Service struct {
	store    store.TxStore
	profiles ProfileOwner
	logger   *slog.Logger
	metrics  *metrics.Metrics
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

func New(st store.TxStore, profiles ProfileOwner, opts ...Option) *Service {
	s := &Service{store: st, profiles: profiles, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the current tag snapshot. It always reads the store.
func (s *Service) Resolve(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	tag, err := s.store.FindByID(ctx, tagID)
	if err != nil {
		return nil, translate(err, "failed to resolve tag")
	}
	return tag, nil
}

// Register creates a new unlinked tag. Only the system may register tags.
func (s *Service) Register(ctx context.Context, tagID id.TagID, req models.Requester) (*models.Tag, error) {
	if !req.System {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the system may register tags")
	}
	tag := &models.Tag{ID: tagID, Status: models.StatusUnlinked, RegisteredAt: s.now()}
	if err := s.store.Create(ctx, tag); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "tag already registered")
		}
		return nil, translate(err, "failed to register tag")
	}
	s.metrics.IncrementRegistered()
	s.logger.InfoContext(ctx, "tag registered", "tag_id", tagID)
	return tag, nil
}

// Link attaches a tag to a profile. Any other tag currently linked to the
// profile is moved to unlinked in the same transaction, and a tag relinked
// away from another profile of the same owner records the unlink first.
func (s *Service) Link(ctx context.Context, tagID id.TagID, profileID id.ProfileID, req models.Requester) (*models.Tag, error) {
	if !req.System {
		if !req.Entitled {
			return nil, dErrors.New(dErrors.CodeForbidden, "an active subscription is required to link tags")
		}
		if err := s.requireProfileOwner(ctx, profileID, req); err != nil {
			return nil, err
		}
	}

	var linked *models.Tag
	var transitions [][2]models.Status
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		transitions = transitions[:0]
		now := s.now()
		tag, err := tx.FindForUpdate(ctx, tagID)
		if err != nil {
			return translate(err, "failed to load tag")
		}

		switch tag.Status {
		case models.StatusRevoked:
			return dErrors.New(dErrors.CodeInvalidState, "tag is revoked")
		case models.StatusActive, models.StatusSuspended:
			if tag.LinkedTo(profileID) {
				linked = tag
				return nil
			}
			if err := s.requireTagOwner(ctx, tag, req); err != nil {
				if dErrors.HasCode(err, dErrors.CodeForbidden) {
					s.metrics.IncrementLinkConflicts()
					return dErrors.New(dErrors.CodeConflict, "tag is already linked")
				}
				return err
			}
			from := tag.Status
			previous := tag.ProfileID
			unlink(tag)
			if err := s.write(ctx, tx, tag, previous, from, "relinked to another profile", req, now); err != nil {
				return err
			}
			transitions = append(transitions, [2]models.Status{from, models.StatusUnlinked})
		}

		replaced, err := tx.FindLinkedToProfile(ctx, profileID)
		if err != nil {
			return translate(err, "failed to load linked tags")
		}
		for _, other := range replaced {
			if other.ID == tag.ID {
				continue
			}
			from := other.Status
			unlink(other)
			if err := s.write(ctx, tx, other, &profileID, from, "replaced by tag "+tag.ID.String(), req, now); err != nil {
				return err
			}
			transitions = append(transitions, [2]models.Status{from, models.StatusUnlinked})
		}

		tag.Status = models.StatusActive
		tag.ProfileID = &profileID
		tag.LinkedAt = &now
		if err := s.write(ctx, tx, tag, &profileID, models.StatusUnlinked, "", req, now); err != nil {
			return err
		}
		transitions = append(transitions, [2]models.Status{models.StatusUnlinked, models.StatusActive})
		linked = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range transitions {
		s.metrics.IncrementTransition(string(t[0]), string(t[1]))
	}
	s.logger.InfoContext(ctx, "tag linked",
		"tag_id", tagID,
		"profile_id", profileID,
		"actor", req.Actor(),
	)
	return linked, nil
}

// SetStatus applies a suspend, restore or revoke. Unlinking happens only
// through Link (replacement) and Reregister.
func (s *Service) SetStatus(ctx context.Context, tagID id.TagID, status models.Status, req models.Requester) (*models.Tag, error) {
	if status == models.StatusUnlinked {
		return nil, dErrors.New(dErrors.CodeInvalidState, "tags are unlinked by linking a replacement or by re-registration")
	}
	if status == models.StatusActive && !req.Entitled {
		return nil, dErrors.New(dErrors.CodeForbidden, "an active subscription is required to reactivate tags")
	}

	var result *models.Tag
	var from models.Status
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		tag, err := tx.FindForUpdate(ctx, tagID)
		if err != nil {
			return translate(err, "failed to load tag")
		}
		if err := s.requireTagOwner(ctx, tag, req); err != nil {
			return err
		}
		from = tag.Status
		if from == status {
			result = tag
			return nil
		}
		if from == models.StatusUnlinked || !from.CanTransitionTo(status) {
			return dErrors.New(dErrors.CodeInvalidState, "cannot move tag from "+string(from)+" to "+string(status))
		}
		tag.Status = status
		if err := s.write(ctx, tx, tag, tag.ProfileID, from, "", req, s.now()); err != nil {
			return err
		}
		result = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != status {
		s.metrics.IncrementTransition(string(from), string(status))
		s.logger.InfoContext(ctx, "tag status changed",
			"tag_id", tagID,
			"from", from,
			"to", status,
			"actor", req.Actor(),
		)
	}
	return result, nil
}

// ApplyEntitlement maps a billing entitlement change onto the tag: losing the
// entitlement suspends an active tag, regaining it restores a suspended one.
// Tags in any other state are left alone.
func (s *Service) ApplyEntitlement(ctx context.Context, tagID id.TagID, entitled bool) (*models.Tag, error) {
	tag, err := s.Resolve(ctx, tagID)
	if err != nil {
		return nil, err
	}
	switch {
	case entitled && tag.Status == models.StatusSuspended:
		return s.SetStatus(ctx, tagID, models.StatusActive, models.SystemRequester())
	case !entitled && tag.Status == models.StatusActive:
		return s.SetStatus(ctx, tagID, models.StatusSuspended, models.SystemRequester())
	}
	s.logger.InfoContext(ctx, "entitlement change left tag unchanged",
		"tag_id", tagID,
		"status", tag.Status,
		"entitled", entitled,
	)
	return tag, nil
}

// Reregister returns a revoked tag to the unlinked pool. It is explicit,
// system-only, and always leaves an event carrying the operator's note.
func (s *Service) Reregister(ctx context.Context, tagID id.TagID, note string, req models.Requester) (*models.Tag, error) {
	if !req.System {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the system may re-register tags")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a note is required to re-register a tag")
	}

	var result *models.Tag
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		tag, err := tx.FindForUpdate(ctx, tagID)
		if err != nil {
			return translate(err, "failed to load tag")
		}
		if tag.Status != models.StatusRevoked {
			return dErrors.New(dErrors.CodeInvalidState, "only revoked tags can be re-registered")
		}
		previous := tag.ProfileID
		unlink(tag)
		if err := s.write(ctx, tx, tag, previous, models.StatusRevoked, note, req, s.now()); err != nil {
			return err
		}
		result = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementTransition(string(models.StatusRevoked), string(models.StatusUnlinked))
	s.logger.WarnContext(ctx, "revoked tag re-registered", "tag_id", tagID, "note", note)
	return result, nil
}

// History lists link and status events for a profile, oldest first.
func (s *Service) History(ctx context.Context, profileID id.ProfileID, req models.Requester) ([]models.Event, error) {
	if err := s.requireProfileReader(ctx, profileID, req); err != nil {
		return nil, err
	}
	events, err := s.store.ListEventsByProfile(ctx, profileID)
	if err != nil {
		return nil, translate(err, "failed to load tag history")
	}
	return events, nil
}

// ListForProfile returns every tag currently or formerly pointing at the profile.
func (s *Service) ListForProfile(ctx context.Context, profileID id.ProfileID, req models.Requester) ([]*models.Tag, error) {
	if err := s.requireProfileReader(ctx, profileID, req); err != nil {
		return nil, err
	}
	tags, err := s.store.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, translate(err, "failed to list tags")
	}
	return tags, nil
}

// MarkResolved records a successful resolution. Failures are logged and
// never surface to the caller.
func (s *Service) MarkResolved(ctx context.Context, tagID id.TagID, at time.Time) {
	if err := s.store.RecordResolution(ctx, tagID, at); err != nil {
		s.logger.WarnContext(ctx, "failed to record tag resolution",
			"tag_id", tagID,
			"error", err,
		)
	}
}

func (s *Service) write(ctx context.Context, tx store.Store, tag *models.Tag, profileID *id.ProfileID, from models.Status, note string, req models.Requester, at time.Time) error {
	if err := tx.Update(ctx, tag); err != nil {
		return translate(err, "failed to update tag")
	}
	event := models.NewEvent(tag, profileID, from, tag.Status, req.Actor(), note, at)
	if err := tx.AppendEvent(ctx, event); err != nil {
		return translate(err, "failed to record tag event")
	}
	return nil
}

// requireTagOwner allows the system, or the owner of the profile the tag is
// linked to.
func (s *Service) requireTagOwner(ctx context.Context, tag *models.Tag, req models.Requester) error {
	if req.System {
		return nil
	}
	if tag.ProfileID == nil {
		return dErrors.New(dErrors.CodeForbidden, "tag is not linked to your profile")
	}
	owner, err := s.profiles.OwnerOf(ctx, *tag.ProfileID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeForbidden, "tag is not linked to your profile")
		}
		return err
	}
	if owner != req.AccountID {
		return dErrors.New(dErrors.CodeForbidden, "tag is not linked to your profile")
	}
	return nil
}

func (s *Service) requireProfileOwner(ctx context.Context, profileID id.ProfileID, req models.Requester) error {
	owner, err := s.profiles.OwnerOf(ctx, profileID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeForbidden, "profile does not belong to the requester")
		}
		return err
	}
	if owner != req.AccountID {
		return dErrors.New(dErrors.CodeForbidden, "profile does not belong to the requester")
	}
	return nil
}

// requireProfileReader answers NotFound for foreign profiles so owners cannot
// probe profile identifiers.
func (s *Service) requireProfileReader(ctx context.Context, profileID id.ProfileID, req models.Requester) error {
	if req.System {
		return nil
	}
	owner, err := s.profiles.OwnerOf(ctx, profileID)
	if err != nil {
		return err
	}
	if owner != req.AccountID {
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	return nil
}

func unlink(tag *models.Tag) {
	tag.Status = models.StatusUnlinked
	tag.ProfileID = nil
	tag.LinkedAt = nil
}

func translate(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "tag not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "tag already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
