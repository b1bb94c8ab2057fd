package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lifetag/internal/platform/postgres"
	"lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
	"lifetag/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

const tagColumns = `id, profile_id, status, registered_at, linked_at, last_resolved_at, access_count`

// PostgresStore persists tags and tag_events. Status reads are single-row
// SELECTs against the primary, so a committed revocation is visible to the
// next resolution.
type PostgresStore struct {
	db   *sql.DB
	exec tx.Executor
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, exec: db}
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registry tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()
	if err := fn(&PostgresStore{db: s.db, exec: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit registry tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	return s.findOne(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = $1`, tagID)
}

func (s *PostgresStore) FindForUpdate(ctx context.Context, tagID id.TagID) (*models.Tag, error) {
	return s.findOne(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = $1 FOR UPDATE`, tagID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, tagID id.TagID) (*models.Tag, error) {
	tag, err := scanTag(s.exec.QueryRowContext(ctx, query, string(tagID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) FindLinkedToProfile(ctx context.Context, profileID id.ProfileID) ([]*models.Tag, error) {
	return s.list(ctx, `
		SELECT `+tagColumns+` FROM tags
		WHERE profile_id = $1 AND status IN ('active', 'suspended')
		ORDER BY id
		FOR UPDATE
	`, uuid.UUID(profileID))
}

func (s *PostgresStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]*models.Tag, error) {
	return s.list(ctx, `SELECT `+tagColumns+` FROM tags WHERE profile_id = $1 ORDER BY id`, uuid.UUID(profileID))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Tag, error) {
	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	var out []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, tag *models.Tag) error {
	_, err := s.exec.ExecContext(ctx, `
		INSERT INTO tags (`+tagColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(tag.ID), nullableProfile(tag.ProfileID), string(tag.Status), tag.RegisteredAt,
		tag.LinkedAt, tag.LastResolvedAt, tag.AccessCount)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("tag %s: %w", tag.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, tag *models.Tag) error {
	res, err := s.exec.ExecContext(ctx, `
		UPDATE tags SET profile_id = $2, status = $3, linked_at = $4
		WHERE id = $1
	`, string(tag.ID), nullableProfile(tag.ProfileID), string(tag.Status), tag.LinkedAt)
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tag rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event models.Event) error {
	_, err := s.exec.ExecContext(ctx, `
		INSERT INTO tag_events (id, tag_id, profile_id, from_status, to_status, actor, note, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, string(event.TagID), nullableProfile(event.ProfileID), string(event.From),
		string(event.To), event.Actor, event.Note, event.At)
	if err != nil {
		return fmt.Errorf("insert tag event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEventsByProfile(ctx context.Context, profileID id.ProfileID) ([]models.Event, error) {
	rows, err := s.exec.QueryContext(ctx, `
		SELECT id, tag_id, profile_id, from_status, to_status, actor, note, occurred_at
		FROM tag_events
		WHERE profile_id = $1
		ORDER BY occurred_at, id
	`, uuid.UUID(profileID))
	if err != nil {
		return nil, fmt.Errorf("list tag events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var tagID, from, to string
		var profile uuid.NullUUID
		if err := rows.Scan(&e.ID, &tagID, &profile, &from, &to, &e.Actor, &e.Note, &e.At); err != nil {
			return nil, fmt.Errorf("scan tag event: %w", err)
		}
		e.TagID = id.TagID(tagID)
		e.From = models.Status(from)
		e.To = models.Status(to)
		if profile.Valid {
			p := id.ProfileID(profile.UUID)
			e.ProfileID = &p
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag events: %w", err)
	}
	return out, nil
}

// RecordResolution bumps access bookkeeping in one statement so concurrent
// resolutions never lose increments.
func (s *PostgresStore) RecordResolution(ctx context.Context, tagID id.TagID, at time.Time) error {
	_, err := s.exec.ExecContext(ctx, `
		UPDATE tags
		SET access_count = access_count + 1,
		    last_resolved_at = GREATEST(COALESCE(last_resolved_at, $2), $2)
		WHERE id = $1
	`, string(tagID), at)
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	return nil
}

type tagRow interface {
	Scan(dest ...any) error
}

func scanTag(row tagRow) (*models.Tag, error) {
	var tag models.Tag
	var tagID, status string
	var profile uuid.NullUUID
	var linkedAt, lastResolvedAt sql.NullTime
	if err := row.Scan(&tagID, &profile, &status, &tag.RegisteredAt, &linkedAt, &lastResolvedAt, &tag.AccessCount); err != nil {
		return nil, err
	}
	tag.ID = id.TagID(tagID)
	tag.Status = models.Status(status)
	if profile.Valid {
		p := id.ProfileID(profile.UUID)
		tag.ProfileID = &p
	}
	if linkedAt.Valid {
		tag.LinkedAt = &linkedAt.Time
	}
	if lastResolvedAt.Valid {
		tag.LastResolvedAt = &lastResolvedAt.Time
	}
	return &tag, nil
}

func nullableProfile(p *id.ProfileID) uuid.NullUUID {
	if p == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*p), Valid: true}
}
