package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"lifetag/internal/platform/postgres"
	"lifetag/internal/policy"
	"lifetag/internal/profile/models"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
	"lifetag/pkg/platform/tx"
)

// PostgresStore persists profiles across profiles, profile_fields and
// profile_contacts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Profile) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			INSERT INTO profiles (id, owner_id, pin_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.UUID(p.ID), uuid.UUID(p.OwnerID), p.PINHash, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return fmt.Errorf("profile %s: %w", p.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert profile: %w", err)
		}
		return s.writeChildren(ctx, p)
	})
}

func (s *PostgresStore) Save(ctx context.Context, p *models.Profile) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			UPDATE profiles SET pin_hash = $2, updated_at = $3 WHERE id = $1
		`, uuid.UUID(p.ID), p.PINHash, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update profile rows affected: %w", err)
		} else if n == 0 {
			return sentinel.ErrNotFound
		}
		exec := tx.Exec(ctx, s.db)
		if _, err := exec.ExecContext(ctx, `DELETE FROM profile_fields WHERE profile_id = $1`, uuid.UUID(p.ID)); err != nil {
			return fmt.Errorf("clear profile fields: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM profile_contacts WHERE profile_id = $1`, uuid.UUID(p.ID)); err != nil {
			return fmt.Errorf("clear profile contacts: %w", err)
		}
		return s.writeChildren(ctx, p)
	})
}

func (s *PostgresStore) writeChildren(ctx context.Context, p *models.Profile) error {
	exec := tx.Exec(ctx, s.db)
	for name, f := range p.Fields {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO profile_fields (profile_id, name, value, tier, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.UUID(p.ID), name, f.Value, string(f.Tier), f.UpdatedAt); err != nil {
			return fmt.Errorf("insert profile field: %w", err)
		}
	}
	for i, c := range p.Contacts {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO profile_contacts (profile_id, position, name, relationship, kind, address, access_alerts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.UUID(p.ID), i, c.Name, c.Relationship, string(c.Kind), c.Address, c.AccessAlerts); err != nil {
			return fmt.Errorf("insert profile contact: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	exec := tx.Exec(ctx, s.db)
	var p models.Profile
	var rawID, rawOwner uuid.UUID
	err := exec.QueryRowContext(ctx, `
		SELECT id, owner_id, pin_hash, created_at, updated_at FROM profiles WHERE id = $1
	`, uuid.UUID(profileID)).Scan(&rawID, &rawOwner, &p.PINHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	p.ID = id.ProfileID(rawID)
	p.OwnerID = id.AccountID(rawOwner)
	p.Fields = map[string]models.Field{}

	rows, err := exec.QueryContext(ctx, `
		SELECT name, value, tier, updated_at FROM profile_fields WHERE profile_id = $1
	`, rawID)
	if err != nil {
		return nil, fmt.Errorf("query profile fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, tier string
		var f models.Field
		if err := rows.Scan(&name, &f.Value, &tier, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile field: %w", err)
		}
		// Stored as-is: unknown tiers are enforced as private by the policy engine.
		f.Tier = policy.Tier(tier)
		p.Fields[name] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile fields: %w", err)
	}

	contacts, err := exec.QueryContext(ctx, `
		SELECT name, relationship, kind, address, access_alerts
		FROM profile_contacts WHERE profile_id = $1 ORDER BY position
	`, rawID)
	if err != nil {
		return nil, fmt.Errorf("query profile contacts: %w", err)
	}
	defer contacts.Close()
	for contacts.Next() {
		var c models.Contact
		var kind string
		if err := contacts.Scan(&c.Name, &c.Relationship, &kind, &c.Address, &c.AccessAlerts); err != nil {
			return nil, fmt.Errorf("scan profile contact: %w", err)
		}
		c.Kind = models.ContactKind(kind)
		p.Contacts = append(p.Contacts, c)
	}
	if err := contacts.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile contacts: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.AccountID) ([]*models.Profile, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id FROM profiles WHERE owner_id = $1 ORDER BY created_at
	`, uuid.UUID(owner))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var ids []id.ProfileID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan profile id: %w", err)
		}
		ids = append(ids, id.ProfileID(raw))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	out := make([]*models.Profile, 0, len(ids))
	for _, profileID := range ids {
		p, err := s.FindByID(ctx, profileID)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
