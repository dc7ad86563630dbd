package fx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketcompass/reconciler/internal/cache"
)

// memCache is a minimal in-process cache.Cache fake, used so FX tests
// don't need a real or embedded Redis.
type memCache struct {
	values map[string][]byte
	locks  map[string]bool
}

func newMemCache() *memCache {
	return &memCache{values: map[string][]byte{}, locks: map[string]bool{}}
}

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
func (m *memCache) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}
func (m *memCache) ReleaseLock(_ context.Context, key string) error { delete(m.locks, key); return nil }
func (m *memCache) IsLocked(_ context.Context, key string) bool     { return m.locks[key] }

var _ cache.Cache = (*memCache)(nil)

func TestConvertToUSD_USDShortCircuit(t *testing.T) {
	s := NewService("", newMemCache())
	got, err := s.ConvertToUSD(context.Background(), 19.995, "usd")
	require.NoError(t, err)
	require.Equal(t, 20.0, got)
}

func TestConvertToUSD_NonUSD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"USD","timestamp":1700000000,"rates":{"JPY":150.0,"EUR":0.9}}`))
	}))
	defer srv.Close()

	s := NewService("test-key", newMemCache()).WithBaseURL(srv.URL)
	got, err := s.ConvertToUSD(context.Background(), 159800, "JPY")
	require.NoError(t, err)
	require.InDelta(t, 1065.33, got, 0.01)
}

func TestConvertToUSD_RetriesOnceOnMissingRate(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"base":"USD","timestamp":1700000000,"rates":{"EUR":0.9}}`))
			return
		}
		w.Write([]byte(`{"base":"USD","timestamp":1700000100,"rates":{"EUR":0.9,"JPY":150.0}}`))
	}))
	defer srv.Close()

	s := NewService("test-key", newMemCache()).WithBaseURL(srv.URL)
	got, err := s.ConvertToUSD(context.Background(), 1500, "JPY")
	require.NoError(t, err)
	require.InDelta(t, 10.0, got, 0.01)
	require.Equal(t, 2, calls, "expected exactly one retry with force_refresh after the missing-rate miss")
}

func TestConvertToUSD_FailsAfterRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"USD","timestamp":1700000000,"rates":{"EUR":0.9}}`))
	}))
	defer srv.Close()

	s := NewService("test-key", newMemCache()).WithBaseURL(srv.URL)
	_, err := s.ConvertToUSD(context.Background(), 1500, "JPY")
	require.Error(t, err)

	var fxErr *Error
	require.ErrorAs(t, err, &fxErr)
}

func TestGetLatest_RejectsNonUSDBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"EUR","timestamp":1700000000,"rates":{"USD":1.1}}`))
	}))
	defer srv.Close()

	s := NewService("test-key", newMemCache()).WithBaseURL(srv.URL)
	_, err := s.GetLatest(context.Background(), true)
	require.Error(t, err)
}

func TestGetLatest_CachesResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"base":"USD","timestamp":1700000000,"rates":{"JPY":150.0}}`))
	}))
	defer srv.Close()

	s := NewService("test-key", newMemCache()).WithBaseURL(srv.URL)
	_, err := s.GetLatest(context.Background(), false)
	require.NoError(t, err)
	_, err = s.GetLatest(context.Background(), false)
	require.NoError(t, err)

	require.Equal(t, 1, calls, "second call should be served from cache")
}
