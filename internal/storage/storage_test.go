package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// memCache is a minimal in-process cache.Cache fake, mirroring the one
// used by the provider and FX services' own tests.
type memCache struct{ values map[string][]byte }

func newMemCache() *memCache { return &memCache{values: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}
func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.values[key] = value
	return nil
}
func (m *memCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	v, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal(v, dest)
}
func (m *memCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, b, ttl)
}
func (m *memCache) Delete(_ context.Context, key string) error { delete(m.values, key); return nil }
func (m *memCache) Has(_ context.Context, key string) bool     { _, ok := m.values[key]; return ok }
func (m *memCache) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}
func (m *memCache) ReleaseLock(_ context.Context, _ string) error { return nil }
func (m *memCache) IsLocked(_ context.Context, _ string) bool     { return false }

// newTestPool spins up a throwaway Postgres container and returns a
// connected, migrated Pool. Skipped unless Docker is reachable, matching
// how this module's other integration-style tests (miniredis aside)
// treat external dependencies as opt-in.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "reconciler",
			"POSTGRES_PASSWORD": "reconciler",
			"POSTGRES_DB":       "reconciler",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("storage: docker unavailable, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://reconciler:reconciler@" + host + ":" + port.Port() + "/reconciler?sslmode=disable"
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Migrate(ctx))

	t.Cleanup(pool.Close)
	return pool
}

func TestGoldenSkuStore_FindBySkuKey(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO golden_skus (sku_key, model, storage, color, condition, display_name)
		VALUES ('iphone-16-pro-256gb-black-new', 'iphone-16-pro', '256gb', 'black', 'new', 'iPhone 16 Pro 256GB Black')`)
	require.NoError(t, err)

	store := NewGoldenSkuStore(pool, nil)
	sku, err := store.FindBySkuKey(ctx, "iphone-16-pro-256gb-black-new")
	require.NoError(t, err)
	require.NotNil(t, sku)
	require.Equal(t, "iphone-16-pro", sku.Model)

	missing, err := store.FindBySkuKey(ctx, "not-a-real-sku")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestGoldenSkuStore_FindBySkuKey_ConsultsCacheBeforeDB(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO golden_skus (sku_key, model, storage, color, condition, display_name)
		VALUES ('iphone-16-pro-256gb-black-new', 'iphone-16-pro', '256gb', 'black', 'new', 'iPhone 16 Pro 256GB Black')`)
	require.NoError(t, err)

	c := newMemCache()
	store := NewGoldenSkuStore(pool, c)

	first, err := store.FindBySkuKey(ctx, "iphone-16-pro-256gb-black-new")
	require.NoError(t, err)
	require.Equal(t, "iPhone 16 Pro 256GB Black", first.DisplayName)

	_, err = pool.Exec(ctx, `UPDATE golden_skus SET display_name = 'renamed' WHERE sku_key = $1`, "iphone-16-pro-256gb-black-new")
	require.NoError(t, err)

	second, err := store.FindBySkuKey(ctx, "iphone-16-pro-256gb-black-new")
	require.NoError(t, err)
	require.Equal(t, "iPhone 16 Pro 256GB Black", second.DisplayName, "second lookup should be served from cache ahead of the now-renamed row")
}

func TestGoldenSkuStore_CandidatesFor_ConsultsCacheBeforeDB(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO golden_skus (sku_key, model, storage, color, condition, display_name)
		VALUES ('iphone-16-pro-256gb-black-new', 'iphone-16-pro', '256gb', 'black', 'new', 'iPhone 16 Pro 256GB Black')`)
	require.NoError(t, err)

	c := newMemCache()
	store := NewGoldenSkuStore(pool, c)

	first, err := store.CandidatesFor(ctx, "iphone-16-pro", "new", 50)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = pool.Exec(ctx, `
		INSERT INTO golden_skus (sku_key, model, storage, color, condition, display_name)
		VALUES ('iphone-16-pro-512gb-black-new', 'iphone-16-pro', '512gb', 'black', 'new', 'iPhone 16 Pro 512GB Black')`)
	require.NoError(t, err)

	second, err := store.CandidatesFor(ctx, "iphone-16-pro", "new", 50)
	require.NoError(t, err)
	require.Len(t, second, 1, "second lookup should be served from cache, missing the row inserted after the first call")
}

func TestRawOfferStore_UpsertIsIdempotentByProductID(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	store := NewRawOfferStore(pool)

	productID := "abc123"
	in := UpsertInput{
		Source: "serpapi", SourceRequestKey: "req1", SourceProductID: &productID,
		CountryCode: "us", RawTitle: "iPhone 16 Pro 256GB Black", MerchantName: "Apple",
		ProductLink: "https://apple.com/x", ProductLinkHash: "hash1",
		PriceLocal: 999.00, Currency: "USD",
		ParsedAttrsJSON: []byte(`{}`), FlagsJSON: []byte(`{}`),
	}

	id1, err := store.Upsert(ctx, in)
	require.NoError(t, err)

	in.RawTitle = "iPhone 16 Pro 256GB Black (Updated Title)"
	id2, err := store.Upsert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	rows, err := store.SelectUnmatched(ctx, "us", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, in.RawTitle, rows[0].RawTitle)
}

func TestOfferStore_DedupKeyRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO golden_skus (sku_key, model, storage, color, condition, display_name)
		VALUES ('iphone-16-pro-256gb-black-new', 'iphone-16-pro', '256gb', 'black', 'new', 'iPhone 16 Pro 256GB Black')`)
	require.NoError(t, err)

	var skuID int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT id FROM golden_skus WHERE sku_key = $1`, "iphone-16-pro-256gb-black-new").Scan(&skuID))

	store := NewOfferStore(pool)
	id, err := store.Create(ctx, Offer{
		SkuID: skuID, DedupKey: "apple:999.00:USD:abcd1234", CountryCode: "us",
		MerchantName: "Apple", PriceLocal: 999, Currency: "USD", PriceUSD: 999,
		FinalEffectivePrice: 999, PriceLocalFormatted: "$999.00", TrustScore: 95,
		TrustReasonCodesJSON: []byte(`["TIER_OFFICIAL"]`), Availability: "in_stock",
		Condition: "new", ProviderLink: "https://apple.com/x", Source: "reconcile",
		MatchConfidence: 1.0, MatchReasonCodesJSON: []byte(`["DETERMINISTIC_SKU_MATCH"]`),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	found, err := store.FindByDedupKey(ctx, "apple:999.00:USD:abcd1234")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, skuID, found.SkuID)
}
