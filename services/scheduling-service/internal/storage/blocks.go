package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// BlockRepository stores availability blocks. A NULL provider_id is a
// tenant-wide block.
type BlockRepository struct {
	pool *db.Pool
}

func NewBlockRepository(pool *db.Pool) *BlockRepository {
	return &BlockRepository{pool: pool}
}

func (r *BlockRepository) CreateBlock(ctx context.Context, block model.AvailabilityBlock) (model.AvailabilityBlock, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_blocks (id, tenant_id, provider_id, start_time, end_time, reason)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		RETURNING id::text, tenant_id, COALESCE(provider_id, ''), start_time, end_time, reason, created_at
	`, block.ID, block.TenantID, providerColumn(block.Scope), block.Start, block.End, block.Reason)
	created, err := scanBlock(row)
	if err != nil {
		return model.AvailabilityBlock{}, mapError("create block", err)
	}
	return created, nil
}

func (r *BlockRepository) DeleteBlock(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_blocks WHERE tenant_id = $1 AND id::text = $2
	`, tenantID, id)
	if err != nil {
		return mapError("delete block", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListBlocks returns blocks of exactly scope overlapping [start, end).
func (r *BlockRepository) ListBlocks(ctx context.Context, tenantID string, scope model.BlockScope, start, end time.Time) ([]model.AvailabilityBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, tenant_id, COALESCE(provider_id, ''), start_time, end_time, reason, created_at
		FROM availability_blocks
		WHERE tenant_id = $1
			AND provider_id IS NOT DISTINCT FROM NULLIF($2, '')
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenantID, providerColumn(scope), start, end)
	if err != nil {
		return nil, mapError("list blocks", err)
	}
	blocks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AvailabilityBlock, error) {
		return scanBlock(row)
	})
	if err != nil {
		return nil, mapError("list blocks", err)
	}
	return blocks, nil
}

func providerColumn(scope model.BlockScope) string {
	if scope.Kind == model.ProviderScope {
		return scope.ProviderID
	}
	return ""
}

func scanBlock(row pgx.Row) (model.AvailabilityBlock, error) {
	var (
		blk        model.AvailabilityBlock
		providerID string
	)
	if err := row.Scan(&blk.ID, &blk.TenantID, &providerID, &blk.Start, &blk.End, &blk.Reason, &blk.CreatedAt); err != nil {
		return model.AvailabilityBlock{}, err
	}
	blk.Scope = model.TenantWide()
	if providerID != "" {
		blk.Scope = model.ForProvider(providerID)
	}
	return blk, nil
}
