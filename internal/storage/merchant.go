package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// MerchantStore manages the lazily-created merchant table.
type MerchantStore struct{ db Querier }

func NewMerchantStore(db Querier) *MerchantStore { return &MerchantStore{db: db} }

// EnsureExists upserts a merchant row for normalizedName, creating it
// with UNKNOWN tier on first reference and leaving an existing row's
// tier/flags untouched.
func (s *MerchantStore) EnsureExists(ctx context.Context, normalizedName, displayName string) (*Merchant, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO merchants (normalized_name, display_name)
		VALUES ($1, $2)
		ON CONFLICT (normalized_name) DO UPDATE SET updated_at = now()
		RETURNING id, normalized_name, display_name, tier, verified, blacklisted, has_physical_store`,
		normalizedName, displayName)

	var m Merchant
	if err := row.Scan(&m.ID, &m.NormalizedName, &m.DisplayName, &m.Tier, &m.Verified, &m.Blacklisted, &m.HasPhysicalStore); err != nil {
		return nil, fmt.Errorf("storage: ensure merchant: %w", err)
	}
	return &m, nil
}

// FindByNormalizedName looks up a merchant without creating one.
func (s *MerchantStore) FindByNormalizedName(ctx context.Context, normalizedName string) (*Merchant, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, normalized_name, display_name, tier, verified, blacklisted, has_physical_store
		FROM merchants WHERE normalized_name = $1`, normalizedName)

	var m Merchant
	err := row.Scan(&m.ID, &m.NormalizedName, &m.DisplayName, &m.Tier, &m.Verified, &m.Blacklisted, &m.HasPhysicalStore)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find merchant: %w", err)
	}
	return &m, nil
}
