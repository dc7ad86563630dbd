package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marketcompass/reconciler/internal/cache"
	"github.com/marketcompass/reconciler/internal/fx"
	"github.com/marketcompass/reconciler/internal/patterns"
	"github.com/marketcompass/reconciler/internal/storage"
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

func TestLLMBudget(t *testing.T) {
	r := &Reconciler{llmEnabled: true, llmMaxCalls: 50, llmMaxFrac: 0.2}
	if got := r.llmBudget(100); got != 20 {
		t.Fatalf("budget = %d, want 20", got)
	}
	if got := r.llmBudget(1000); got != 50 {
		t.Fatalf("budget = %d, want capped 50", got)
	}

	disabled := &Reconciler{llmEnabled: false, llmMaxCalls: 50, llmMaxFrac: 0.2}
	if got := disabled.llmBudget(100); got != 0 {
		t.Fatalf("disabled budget = %d, want 0", got)
	}
}

func TestParsedAttrsMerge_PreservesLLMFieldsAcrossLoads(t *testing.T) {
	first := parsedAttrs{Model: "iphone-16-pro", LLMAttempted: true, LLMChosenSkuKey: "iphone-16-pro-256gb-black-new"}
	raw := first.marshal()

	second := loadParsedAttrs(raw)
	second.Storage = "256gb"
	second.Color = "black"

	if !second.LLMAttempted || second.LLMChosenSkuKey != "iphone-16-pro-256gb-black-new" {
		t.Fatalf("expected llm fields preserved across a deterministic-field update, got %+v", second)
	}
	if second.Storage != "256gb" || second.Color != "black" {
		t.Fatalf("expected new fields applied, got %+v", second)
	}
}

func TestCodesJSON(t *testing.T) {
	raw := codesJSON([]string{"DETERMINISTIC_SKU_MATCH"})
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0] != "DETERMINISTIC_SKU_MATCH" {
		t.Fatalf("got %v", out)
	}
}

func TestFormatPrice(t *testing.T) {
	if got := formatPrice(999.5, "USD"); got != "999.50 USD" {
		t.Fatalf("got %q", got)
	}
}

// newTestPool spins up a throwaway Postgres container and returns a
// connected, migrated Pool, mirroring internal/storage's own integration
// test helper. Skipped unless Docker is reachable.
func newTestPool(t *testing.T) *storage.Pool {
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
		t.Skipf("reconcile: docker unavailable, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://reconciler:reconciler@" + host + ":" + port.Port() + "/reconciler?sslmode=disable"
	pool, err := storage.Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Migrate(ctx))

	t.Cleanup(pool.Close)
	return pool
}

// TestProcessRow_ReusesLLMDecisionOnceFXRecovers drives processRow twice
// against a row that already carries a prior LLM decision
// (llm_attempted=true, llm_chosen_sku_key set) but never linked because FX
// was unavailable on the run that made the decision. The first call must
// stay unmatched without spending a fresh LLM call; the second, with FX
// restored, must look the stored sku key up directly and link — not stay
// stuck re-deriving storage/color from the title forever.
func TestProcessRow_ReusesLLMDecisionOnceFXRecovers(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO golden_skus (sku_key, model, storage, color, condition, display_name)
		VALUES ('iphone-16-pro-256gb-black-new', 'iphone-16-pro', '256gb', 'black', 'new', 'iPhone 16 Pro 256GB Black')`)
	require.NoError(t, err)

	rawOffers := storage.NewRawOfferStore(pool)
	attrs := parsedAttrs{
		LLMAttempted:       true,
		LLMCandidatesCount: 1,
		LLMChosenSkuKey:    "iphone-16-pro-256gb-black-new",
		LLMMatchConfidence: 0.93,
	}
	rawID, err := rawOffers.Upsert(ctx, storage.UpsertInput{
		Source: "serpapi", SourceRequestKey: "req1", CountryCode: "us",
		RawTitle: "iPhone 16 Pro", MerchantName: "Apple",
		ProductLink: "https://apple.com/x", ProductLinkHash: "hash1",
		PriceLocal: 900.00, Currency: "EUR",
		ParsedAttrsJSON: attrs.marshal(), FlagsJSON: (flags{}).marshal(),
	})
	require.NoError(t, err)

	fxCache := newMemCache()
	require.NoError(t, fxCache.SetJSON(ctx, cache.Key(cache.PrefixFxRates, "latest"),
		fx.Rates{Base: "USD", Timestamp: 1, Rates: map[string]float64{"USD": 1, "EUR": 0.9}}, time.Hour))

	r := New(Deps{
		RawOffers: rawOffers,
		Offers:    storage.NewOfferStore(pool),
		Skus:      storage.NewGoldenSkuStore(pool, nil),
		Merchants: storage.NewMerchantStore(pool),
		Phrases:   storage.NewPatternPhraseStore(pool),
		FX:        fx.NewService("", fxCache),
	}, zerolog.Nop())

	loadRow := func() storage.RawOffer {
		rows, err := rawOffers.SelectUnmatched(ctx, "us", 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, rawID, rows[0].ID)
		return rows[0]
	}

	stats1 := &Stats{}
	r.processRow(ctx, loadRow(), patterns.Bundle{}, fx.Rates{}, false, stats1, newDebug())
	require.Equal(t, 1, stats1.LLMReused, "reuse attempt should be counted even when FX blocks the link")
	require.Equal(t, 1, stats1.SkippedFxUnavailable)
	require.Zero(t, stats1.Created)
	require.Zero(t, stats1.LLMExternalCalls, "reuse must not spend a fresh LLM call")

	row2 := loadRow()
	require.Nil(t, row2.MatchedSkuID, "row must still be unmatched after the FX-blocked attempt")

	stats2 := &Stats{}
	r.processRow(ctx, row2, patterns.Bundle{}, fx.Rates{}, true, stats2, newDebug())
	require.Equal(t, 1, stats2.LLMReused)
	require.Equal(t, 1, stats2.Created, "with FX restored the reused decision must link instead of staying stuck on missing attrs")
	require.Zero(t, stats2.SkippedMissingAttrs)

	rows, err := rawOffers.SelectUnmatched(ctx, "us", 10)
	require.NoError(t, err)
	require.Empty(t, rows, "the row must now be matched")
}
