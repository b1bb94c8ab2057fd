// Package store persists tags and their transition events. There is no
// delete operation: revocation is the tombstone.
package store

import (
	"context"
	"time"

	"lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
)

// Store is the registry storage contract. Reads through FindByID are
// consistent with committed transitions; no cache sits in between.
type Store interface {
	FindByID(ctx context.Context, tagID id.TagID) (*models.Tag, error)
	// FindForUpdate locks the tag row for the rest of the transaction.
	FindForUpdate(ctx context.Context, tagID id.TagID) (*models.Tag, error)
	FindLinkedToProfile(ctx context.Context, profileID id.ProfileID) ([]*models.Tag, error)
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]*models.Tag, error)
	Create(ctx context.Context, tag *models.Tag) error
	Update(ctx context.Context, tag *models.Tag) error
	AppendEvent(ctx context.Context, event models.Event) error
	ListEventsByProfile(ctx context.Context, profileID id.ProfileID) ([]models.Event, error)
	RecordResolution(ctx context.Context, tagID id.TagID, at time.Time) error
}

// TxStore runs fn atomically: either every write inside fn is committed or
// none is, and concurrent readers observe the state before or after, never
// in between.
type TxStore interface {
	Store
	RunInTx(ctx context.Context, fn func(store Store) error) error
}
