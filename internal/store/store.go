package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/immich-tools/describer/pkg/models"
)

var ErrNotFound = errors.New("asset not found")

// Store is the data access interface for the Immich database. All reads
// and writes against the library go through here. Implementations must be
// safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	// ForEachAsset streams assets that have a preview file, ordered by
	// asset ID, invoking fn for each row. Returning an error from fn
	// stops the scan and is returned unchanged.
	ForEachAsset(ctx context.Context, fn func(models.Asset) error) error

	// HasDescription reports whether a non-empty description is already
	// stored for the asset.
	HasDescription(ctx context.Context, assetID uuid.UUID) (bool, error)

	// UpsertDescription stores the description for the asset. The write
	// is idempotent: repeating it leaves the row in the same final state.
	UpsertDescription(ctx context.Context, assetID uuid.UUID, description string) error
}
