package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/immich-tools/describer/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface against an Immich database
// using pgx/v5. It touches only the asset, preview-file, and exif
// description columns; everything else in the schema is left alone.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ForEachAsset(ctx context.Context, fn func(models.Asset) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, af.path,
		        (e.description IS NOT NULL AND btrim(e.description) <> '') AS has_description
		 FROM assets a
		 JOIN asset_files af ON af."assetId" = a.id AND af.type = 'preview'
		 LEFT JOIN exif e ON e."assetId" = a.id
		 WHERE a."deletedAt" IS NULL
		 ORDER BY a.id`)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.PreviewPath, &a.HasDescription); err != nil {
			return fmt.Errorf("scan asset: %w", err)
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasDescription(ctx context.Context, assetID uuid.UUID) (bool, error) {
	var has bool
	err := s.pool.QueryRow(ctx,
		`SELECT e.description IS NOT NULL AND btrim(e.description) <> ''
		 FROM assets a
		 LEFT JOIN exif e ON e."assetId" = a.id
		 WHERE a.id = $1`, assetID,
	).Scan(&has)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check description: %w", err)
	}
	return has, nil
}

func (s *PostgresStore) UpsertDescription(ctx context.Context, assetID uuid.UUID, description string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exif ("assetId", description)
		 VALUES ($1, $2)
		 ON CONFLICT ("assetId") DO UPDATE SET description = EXCLUDED.description`,
		assetID, description)
	if err != nil {
		return fmt.Errorf("upsert description: %w", err)
	}
	return nil
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
