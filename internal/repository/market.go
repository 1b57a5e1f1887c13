package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
)

type MarketRepository struct {
	db *sql.DB
}

func NewMarketRepository(db *sql.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

func (r *MarketRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Market, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]domain.Market{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, slug, created_at FROM markets WHERE id = ANY($1)`,
		uuidArray(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("GetByIDs: %w", err)
	}
	defer rows.Close()

	markets := make(map[uuid.UUID]domain.Market, len(ids))
	for rows.Next() {
		var m domain.Market
		if err := rows.Scan(&m.ID, &m.Title, &m.Slug, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("GetByIDs: scan: %w", err)
		}
		markets[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByIDs: rows: %w", err)
	}
	return markets, nil
}
