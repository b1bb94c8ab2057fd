package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"lifetag/internal/ledger/models"
	"lifetag/internal/ledger/store"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
	"lifetag/pkg/platform/sentinel"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// ErrDuplicateEntry is the cause of a CodeConflict returned by Append when
// the entry ID was already written (a retried append).
var ErrDuplicateEntry = errors.New("duplicate audit entry")

// Service is the only writer of the audit ledger. Entries are never updated
// or deleted.
type Service struct {
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
	pageSize int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = min(n, MaxPageSize)
		}
	}
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, logger: slog.Default(), now: time.Now, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append durably records entry and returns its ID. Callers should set the ID
// before the first attempt so a retry after an ambiguous failure is rejected
// instead of duplicated.
func (s *Service) Append(ctx context.Context, entry models.Entry) (id.AuditEntryID, error) {
	if _, ok := models.ParseOutcome(string(entry.Outcome)); !ok {
		return id.AuditEntryID{}, dErrors.New(dErrors.CodeInvariantViolation, "unknown audit outcome")
	}
	if entry.ID.IsNil() {
		entry.ID = id.NewAuditEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	// Postgres keeps microseconds; cursors must round-trip on every backend.
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)

	if err := s.store.Append(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return entry.ID, dErrors.Wrap(ErrDuplicateEntry, dErrors.CodeConflict, "audit entry already recorded")
		}
		s.logger.ErrorContext(ctx, "audit append failed",
			"request_id", entry.RequestID,
			"tag_id", entry.TagID,
			"outcome", entry.Outcome,
			"error", err,
		)
		return entry.ID, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit ledger unavailable")
	}
	return entry.ID, nil
}

// QueryByOwner lazily yields the owner's entries newest first, fetching one
// page at a time. Ranging over the sequence again restarts from the top.
func (s *Service) QueryByOwner(ctx context.Context, owner id.AccountID, filter models.Filter) iter.Seq2[models.Entry, error] {
	return func(yield func(models.Entry, error) bool) {
		var cursor *models.Cursor
		for {
			entries, err := s.store.Page(ctx, owner, filter, cursor, s.pageSize)
			if err != nil {
				yield(models.Entry{}, translate(err, "failed to query audit entries"))
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
			if len(entries) < s.pageSize {
				return
			}
			cursor = models.CursorOf(entries[len(entries)-1])
		}
	}
}

// Page returns one page of the owner's entries after an opaque cursor.
func (s *Service) Page(ctx context.Context, owner id.AccountID, filter models.Filter, cursor string, limit int) (models.Page, error) {
	after, err := models.DecodeCursor(cursor)
	if err != nil {
		return models.Page{}, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = s.pageSize
	}
	entries, err := s.store.Page(ctx, owner, filter, after, limit+1)
	if err != nil {
		return models.Page{}, translate(err, "failed to query audit entries")
	}
	page := models.Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.Next = models.CursorOf(entries[limit-1]).Encode()
	}
	if page.Entries == nil {
		page.Entries = []models.Entry{}
	}
	return page, nil
}

// Stats computes the owner dashboard counters for the current UTC month.
func (s *Service) Stats(ctx context.Context, owner id.AccountID) (models.Stats, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	stats, err := s.store.Stats(ctx, owner, monthStart)
	if err != nil {
		return models.Stats{}, translate(err, "failed to compute audit stats")
	}
	return stats, nil
}

var csvHeader = []string{"timestamp", "outcome", "tag_id", "disclosed_fields", "origin", "user_agent_class", "request_id"}

// ExportCSV streams every matching entry as CSV.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, owner id.AccountID, filter models.Filter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for e, err := range s.QueryByOwner(ctx, owner, filter) {
		if err != nil {
			return err
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339),
			string(e.Outcome),
			e.TagID.String(),
			strings.Join(e.DisclosedFields, ";"),
			e.Origin,
			e.UserAgentClass,
			e.RequestID,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ListGrantedSince returns granted entries in [since, until) after cursor,
// oldest first. A nil cursor starts at since.
func (s *Service) ListGrantedSince(ctx context.Context, since, until time.Time, after *models.Cursor, limit int) ([]models.Entry, error) {
	entries, err := s.store.GrantedBetween(ctx, since, until, after, limit)
	if err != nil {
		return nil, translate(err, "failed to list granted entries")
	}
	return entries, nil
}

// RetentionReport counts entries older than the retention minimum. Nothing
// here deletes entries.
func (s *Service) RetentionReport(ctx context.Context, retention time.Duration) (models.RetentionReport, error) {
	report, err := s.store.Retention(ctx, s.now().Add(-retention))
	if err != nil {
		return models.RetentionReport{}, translate(err, "failed to build retention report")
	}
	return report, nil
}

func translate(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
}
