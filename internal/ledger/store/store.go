package store

import (
	"context"
	"time"

	"lifetag/internal/ledger/models"
	id "lifetag/pkg/domain"
)

// Store is append-only: there is no update and no delete.
type Store interface {
	Append(ctx context.Context, entry models.Entry) error
	// Page returns up to limit owner entries strictly after cursor, newest first.
	Page(ctx context.Context, owner id.AccountID, filter models.Filter, after *models.Cursor, limit int) ([]models.Entry, error)
	Stats(ctx context.Context, owner id.AccountID, monthStart time.Time) (models.Stats, error)
	// GrantedBetween returns granted entries in [since, until) strictly after
	// cursor, oldest first by (timestamp, id).
	GrantedBetween(ctx context.Context, since, until time.Time, after *models.Cursor, limit int) ([]models.Entry, error)
	Retention(ctx context.Context, cutoff time.Time) (models.RetentionReport, error)
}
