package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/marketcompass/reconciler/internal/cache"
)

// GoldenSkuStore reads the curated catalog. Its cache is consulted before
// every query — the catalog is the highest-churn, smallest-row lookup the
// reconciler makes on nearly every raw offer. c may be nil, in which case
// the store falls back to querying Postgres directly.
type GoldenSkuStore struct {
	db    Querier
	cache cache.Cache
}

func NewGoldenSkuStore(db Querier, c cache.Cache) *GoldenSkuStore {
	return &GoldenSkuStore{db: db, cache: c}
}

// FindBySkuKey looks up a single catalog entry by its derived sku_key,
// preferring the L1/Redis-layered cache over Postgres.
func (s *GoldenSkuStore) FindBySkuKey(ctx context.Context, skuKey string) (*GoldenSku, error) {
	key := cache.Key(cache.PrefixGoldenSkuL1, skuKey)
	if s.cache != nil {
		var cached GoldenSku
		if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	row := s.db.QueryRow(ctx, `
		SELECT id, sku_key, model, storage, color, condition, sim_variant, lock_state, region_variant, display_name, msrp_usd
		FROM golden_skus WHERE sku_key = $1`, skuKey)
	sku, err := scanGoldenSku(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find sku by key: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, sku, cache.GoldenSkuL1TTL)
	}
	return sku, nil
}

// CandidatesFor returns catalog rows sharing (model, condition), stably
// ordered, capped at limit — the scoping the LLM matcher's candidate set
// is drawn from. Cached under the same sku-catalog namespace as
// FindBySkuKey, keyed on the (model, condition, limit) tuple.
func (s *GoldenSkuStore) CandidatesFor(ctx context.Context, model, condition string, limit int) ([]GoldenSku, error) {
	key := cache.Key(cache.PrefixGoldenSkuL1, fmt.Sprintf("candidates:%s:%s:%d", model, condition, limit))
	if s.cache != nil {
		var cached []GoldenSku
		if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, sku_key, model, storage, color, condition, sim_variant, lock_state, region_variant, display_name, msrp_usd
		FROM golden_skus WHERE model = $1 AND condition = $2 ORDER BY sku_key ASC LIMIT $3`, model, condition, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: candidates for: %w", err)
	}
	defer rows.Close()

	var out []GoldenSku
	for rows.Next() {
		sku, err := scanGoldenSku(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		out = append(out, *sku)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, out, cache.GoldenSkuL1TTL)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGoldenSku(row rowScanner) (*GoldenSku, error) {
	var sku GoldenSku
	err := row.Scan(&sku.ID, &sku.SkuKey, &sku.Model, &sku.Storage, &sku.Color, &sku.Condition,
		&sku.SimVariant, &sku.LockState, &sku.RegionVariant, &sku.DisplayName, &sku.MsrpUSD)
	if err != nil {
		return nil, err
	}
	return &sku, nil
}
