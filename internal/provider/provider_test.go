package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/marketcompass/reconciler/internal/debugstore"
)

// memCache is a minimal in-process cache.Cache fake, mirroring the one
// used by the FX service's tests.
type memCache struct {
	values map[string][]byte
}

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

func TestSearchShopping_MergesOrganicAndInlineAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{
			"shopping_results": [
				{"product_id":"p1","title":"iPhone 16 Pro 256GB","extracted_price":999,"price":"$999.00","source":"BestBuy","product_link":"https://a"}
			],
			"inline_shopping_results": [
				{"title":"iPhone 16 128GB","extracted_price":799,"price":"$799.00","source":"Amazon","link":"https://b"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", newMemCache(), debugstore.NoOp{}, zerolog.Nop()).WithBaseURL(srv.URL)

	results, err := c.SearchShopping(context.Background(), "iphone 16", "us", "en", "", true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "p1", results[0].ProductID)
	require.NotEmpty(t, results[1].ProductID, "inline result without a product_id should get a derived one")

	_, err = c.SearchShopping(context.Background(), "iphone 16", "us", "en", "", true)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second call should be served from cache")
}

func TestSearchShopping_DropsZeroPriceOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"shopping_results":[{"product_id":"p1","title":"x","extracted_price":0,"product_link":"https://a"}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", newMemCache(), debugstore.NoOp{}, zerolog.Nop()).WithBaseURL(srv.URL)
	results, err := c.SearchShopping(context.Background(), "q", "us", "en", "", false)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGetDetail_ReturnsFirstHTTPSSeller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sellers_results":{"online_sellers":[
			{"link":"http://insecure","total_price":900},
			{"link":"https://secure","total_price":950}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", newMemCache(), debugstore.NoOp{}, zerolog.Nop()).WithBaseURL(srv.URL)
	detail, err := c.GetDetail(context.Background(), "token-1", false)
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Equal(t, "https://secure", detail.SellerLink)
	require.Equal(t, 950.0, detail.TotalPrice)
}

func TestGetDetail_NoHTTPSSellerReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sellers_results":{"online_sellers":[{"link":"http://insecure","total_price":900}]}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", newMemCache(), debugstore.NoOp{}, zerolog.Nop()).WithBaseURL(srv.URL)
	detail, err := c.GetDetail(context.Background(), "token-1", false)
	require.NoError(t, err)
	require.Nil(t, detail)
}

func TestExtractCurrency_Precedence(t *testing.T) {
	cases := []struct {
		name string
		item rawShoppingItem
		gl   string
		want string
	}{
		{"item currency wins", rawShoppingItem{Currency: "eur", Price: "$10"}, "us", "EUR"},
		{"symbol from price string", rawShoppingItem{Price: "HK$1,200"}, "us", "HKD"},
		{"falls back to gl", rawShoppingItem{Price: "1200"}, "jp", "JPY"},
		{"alternative price as last resort", rawShoppingItem{Price: "1200", AlternativePrice: &altPrice{Currency: "cad"}}, "", "CAD"},
		{"defaults to usd", rawShoppingItem{Price: "1200"}, "", "USD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, extractCurrency(tc.item, tc.gl))
		})
	}
}

func TestCurrencyFromSymbol_MultiCharBeforeSingle(t *testing.T) {
	require.Equal(t, "HKD", currencyFromSymbol("HK$999"))
	require.Equal(t, "USD", currencyFromSymbol("$999"))
}
