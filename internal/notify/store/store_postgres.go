package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lifetag/internal/notify/models"
	"lifetag/internal/platform/postgres"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
)

const bucketIndex = "uq_notification_tag_bucket"

// PostgresStore persists events in notification_events. The partial unique
// index uq_notification_tag_bucket enforces one live event per tag bucket.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `id, audit_entry_id, tag_id, profile_id, owner_id, channels, state, terminal,
	attempts, next_retry_at, lease_until, last_error, delivered_channels, bucket_start, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, ev *models.Event) (*models.Event, error) {
	stored := ev.Clone()
	inserted, err := s.insert(ctx, stored)
	if postgres.IsUniqueViolation(err) && postgres.ConstraintName(err) == bucketIndex {
		stored.State = models.StateSuppressedDuplicate
		inserted, err = s.insert(ctx, stored)
	}
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if !inserted {
		return nil, fmt.Errorf("notification for audit entry %s: %w", ev.AuditEntryID, sentinel.ErrConflict)
	}
	return stored, nil
}

func (s *PostgresStore) insert(ctx context.Context, ev *models.Event) (bool, error) {
	channels, err := json.Marshal(ev.Channels)
	if err != nil {
		return false, fmt.Errorf("marshal channels: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO notification_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (audit_entry_id) DO NOTHING`,
		uuid.UUID(ev.ID),
		uuid.UUID(ev.AuditEntryID),
		string(ev.TagID),
		uuid.UUID(ev.ProfileID),
		uuid.UUID(ev.OwnerID),
		string(channels),
		string(ev.State),
		ev.Terminal,
		ev.Attempts,
		nullTime(ev.NextRetryAt),
		nullTime(ev.LeaseUntil),
		ev.LastError,
		pq.Array(nonNil(ev.DeliveredChannels)),
		ev.BucketStart,
		ev.CreatedAt,
		ev.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE notification_events SET lease_until = $2
		WHERE id IN (
			SELECT id FROM notification_events
			WHERE state IN ('pending', 'failed') AND NOT terminal
			  AND (next_retry_at IS NULL OR next_retry_at <= $1)
			  AND (lease_until IS NULL OR lease_until <= $1)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Update(ctx context.Context, ev *models.Event) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_events
		SET state = $2, terminal = $3, attempts = $4, next_retry_at = $5, lease_until = $6,
		    last_error = $7, delivered_channels = $8, updated_at = $9
		WHERE id = $1 AND NOT terminal`,
		uuid.UUID(ev.ID),
		string(ev.State),
		ev.Terminal,
		ev.Attempts,
		nullTime(ev.NextRetryAt),
		nullTime(ev.LeaseUntil),
		ev.LastError,
		pq.Array(nonNil(ev.DeliveredChannels)),
		ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %s missing or terminal: %w", ev.ID, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) MissingAuditEntries(ctx context.Context, ids []id.AuditEntryID) ([]id.AuditEntryID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, auditID := range ids {
		raw[i] = auditID.String()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate FROM unnest($1::uuid[]) AS candidate
		WHERE NOT EXISTS (
			SELECT 1 FROM notification_events WHERE audit_entry_id = candidate
		)`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find unrecorded audit entries: %w", err)
	}
	defer rows.Close()

	var missing []id.AuditEntryID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan audit entry id: %w", err)
		}
		missing = append(missing, id.AuditEntryID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entry ids: %w", err)
	}
	return missing, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.AccountID, limit int) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM notification_events
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, uuid.UUID(owner), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var out []*models.Event
	for rows.Next() {
		var (
			ev                              models.Event
			evID, auditID, profileID, owner uuid.UUID
			tagID, state                    string
			channels                        []byte
			nextRetry, leaseUntil           sql.NullTime
			delivered                       []string
		)
		if err := rows.Scan(
			&evID, &auditID, &tagID, &profileID, &owner, &channels, &state, &ev.Terminal,
			&ev.Attempts, &nextRetry, &leaseUntil, &ev.LastError, pq.Array(&delivered),
			&ev.BucketStart, &ev.CreatedAt, &ev.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if err := json.Unmarshal(channels, &ev.Channels); err != nil {
			return nil, fmt.Errorf("decode channels: %w", err)
		}
		ev.ID = id.NotificationID(evID)
		ev.AuditEntryID = id.AuditEntryID(auditID)
		ev.TagID = id.TagID(tagID)
		ev.ProfileID = id.ProfileID(profileID)
		ev.OwnerID = id.AccountID(owner)
		ev.State = models.State(state)
		ev.NextRetryAt = nextRetry.Time
		ev.LeaseUntil = leaseUntil.Time
		ev.DeliveredChannels = nonNil(delivered)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
