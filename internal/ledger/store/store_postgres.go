package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lifetag/internal/ledger/models"
	"lifetag/internal/platform/postgres"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

// PostgresStore persists entries in audit_entries. A trigger on the table
// rejects UPDATE and DELETE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, tag_id, profile_id, owner_id, outcome, disclosed_fields, field_tiers,
	origin, user_agent_class, request_id, occurred_at`

func (s *PostgresStore) Append(ctx context.Context, entry models.Entry) error {
	var profileID, ownerID uuid.NullUUID
	if entry.ProfileID != nil {
		profileID = uuid.NullUUID{UUID: uuid.UUID(*entry.ProfileID), Valid: true}
	}
	if entry.OwnerID != nil {
		ownerID = uuid.NullUUID{UUID: uuid.UUID(*entry.OwnerID), Valid: true}
	}
	fields := entry.DisclosedFields
	if fields == nil {
		fields = []string{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(entry.ID),
		string(entry.TagID),
		profileID,
		ownerID,
		string(entry.Outcome),
		pq.Array(fields),
		pq.Array(models.EncodeFieldTiers(entry.FieldTiers)),
		entry.Origin,
		entry.UserAgentClass,
		entry.RequestID,
		entry.Timestamp,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("audit entry %s: %w", entry.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Page(ctx context.Context, owner id.AccountID, filter models.Filter, after *models.Cursor, limit int) ([]models.Entry, error) {
	q := newQuery(`SELECT `+entryColumns+` FROM audit_entries WHERE owner_id = $1`, uuid.UUID(owner))
	if !filter.From.IsZero() {
		q.where("occurred_at >= $?", filter.From)
	}
	if !filter.To.IsZero() {
		q.where("occurred_at < $?", filter.To)
	}
	if len(filter.Outcomes) > 0 {
		outcomes := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			outcomes[i] = string(o)
		}
		q.where("outcome = ANY($?)", pq.Array(outcomes))
	}
	if text := strings.TrimSpace(filter.Query); text != "" {
		q.where("EXISTS (SELECT 1 FROM unnest(disclosed_fields) AS f WHERE strpos(lower(f), lower($?)) > 0)", text)
	}
	if after != nil {
		q.where("(occurred_at, id) < ($?, $?)", after.At, uuid.UUID(after.ID))
	}
	q.sql.WriteString(" ORDER BY occurred_at DESC, id DESC")
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sql.WriteString(" LIMIT $" + strconv.Itoa(len(q.args)))
	}
	return s.list(ctx, q.sql.String(), q.args...)
}

func (s *PostgresStore) Stats(ctx context.Context, owner id.AccountID, monthStart time.Time) (models.Stats, error) {
	var stats models.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE outcome = 'granted'),
			COUNT(*) FILTER (WHERE outcome = 'granted' AND occurred_at >= $2),
			COUNT(*) FILTER (WHERE outcome <> 'granted'),
			COUNT(DISTINCT NULLIF(origin, ''))
		FROM audit_entries
		WHERE owner_id = $1`,
		uuid.UUID(owner), monthStart,
	).Scan(&stats.TotalGranted, &stats.GrantedThisMonth, &stats.FailedAttempts, &stats.DistinctOrigins)
	if err != nil {
		return models.Stats{}, fmt.Errorf("audit stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) GrantedBetween(ctx context.Context, since, until time.Time, after *models.Cursor, limit int) ([]models.Entry, error) {
	q := newQuery(`SELECT `+entryColumns+` FROM audit_entries
		WHERE outcome = 'granted' AND occurred_at >= $1 AND occurred_at < $2`, since, until)
	if after != nil {
		q.where("(occurred_at, id) > ($?, $?)", after.At, uuid.UUID(after.ID))
	}
	q.sql.WriteString(" ORDER BY occurred_at, id")
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sql.WriteString(" LIMIT $" + strconv.Itoa(len(q.args)))
	}
	return s.list(ctx, q.sql.String(), q.args...)
}

func (s *PostgresStore) Retention(ctx context.Context, cutoff time.Time) (models.RetentionReport, error) {
	report := models.RetentionReport{Cutoff: cutoff}
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT count(*), count(*) FILTER (WHERE occurred_at < $1), min(occurred_at)
		FROM audit_entries`, cutoff).Scan(&report.Total, &report.PastCutoff, &oldest)
	if err != nil {
		return models.RetentionReport{}, fmt.Errorf("retention report: %w", err)
	}
	if oldest.Valid {
		ts := oldest.Time.UTC()
		report.Oldest = &ts
	}
	return report, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.Entry, error) {
	var (
		e                  models.Entry
		entryID            uuid.UUID
		tagID, outcome     string
		profileID, ownerID uuid.NullUUID
		fields, tiers      []string
	)
	err := row.Scan(&entryID, &tagID, &profileID, &ownerID, &outcome,
		pq.Array(&fields), pq.Array(&tiers),
		&e.Origin, &e.UserAgentClass, &e.RequestID, &e.Timestamp)
	if err != nil {
		return models.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.ID = id.AuditEntryID(entryID)
	e.TagID = id.TagID(tagID)
	e.Outcome = models.Outcome(outcome)
	e.DisclosedFields = fields
	e.FieldTiers = models.DecodeFieldTiers(tiers)
	e.Timestamp = e.Timestamp.UTC()
	if profileID.Valid {
		p := id.ProfileID(profileID.UUID)
		e.ProfileID = &p
	}
	if ownerID.Valid {
		o := id.AccountID(ownerID.UUID)
		e.OwnerID = &o
	}
	return e, nil
}

// query numbers placeholders as conditions are appended; "$?" marks each one.
type query struct {
	sql  strings.Builder
	args []any
}

func newQuery(base string, args ...any) *query {
	q := &query{args: args}
	q.sql.WriteString(base)
	return q
}

func (q *query) where(cond string, args ...any) {
	for _, arg := range args {
		q.args = append(q.args, arg)
		cond = strings.Replace(cond, "$?", "$"+strconv.Itoa(len(q.args)), 1)
	}
	q.sql.WriteString(" AND " + cond)
}
