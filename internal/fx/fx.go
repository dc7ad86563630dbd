// Package fx fetches and caches USD-base exchange rates and converts
// local-currency amounts to USD.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marketcompass/reconciler/internal/cache"
)

// Error is the typed FX failure for every fetch or conversion problem
// (network, non-200 status, undecodable body, missing rate), so the
// reconciler can record FX_UNAVAILABLE without treating it as a bug.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fx: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, err error) *Error { return &Error{Op: op, Err: err} }

// Rates is a snapshot of USD-base exchange rates at a point in time.
type Rates struct {
	Base      string             `json:"base"`
	Timestamp int64              `json:"timestamp"`
	Rates     map[string]float64 `json:"rates"`
}

// Service fetches/caches FX rates and performs USD conversion.
type Service struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
}

const defaultBaseURL = "https://openexchangerates.org/api/latest.json"

// NewService builds an FX service backed by the OpenExchangeRates-shaped
// upstream API, matching the bounded-timeout, cache-first client idiom
// used by every other external call in this module.
func NewService(apiKey string, c cache.Cache) *Service {
	return &Service{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      c,
	}
}

// WithBaseURL overrides the upstream endpoint, used by tests to point at
// an httptest.Server instead of the real provider.
func (s *Service) WithBaseURL(baseURL string) *Service {
	s.baseURL = baseURL
	return s
}

const ratesCacheKey = "latest"

// GetLatest returns the latest USD-base rate snapshot, preferring the
// cache unless forceRefresh is set.
func (s *Service) GetLatest(ctx context.Context, forceRefresh bool) (Rates, error) {
	key := cache.Key(cache.PrefixFxRates, ratesCacheKey)

	if !forceRefresh {
		var cached Rates
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return cached, nil
		}
	}

	rates, err := s.fetch(ctx)
	if err != nil {
		return Rates{}, err
	}

	_ = s.cache.SetJSON(ctx, key, rates, cache.FxRatesTTL)
	return rates, nil
}

// ConvertToUSD converts amount in currency to USD using 1 USD =
// rates[currency] units of currency. On a missing/non-positive rate it
// retries once with a forced refresh before failing with a typed Error.
func (s *Service) ConvertToUSD(ctx context.Context, amount float64, currency string) (float64, error) {
	currency = strings.ToUpper(currency)
	if currency == "USD" {
		return round2(amount), nil
	}

	rates, err := s.GetLatest(ctx, false)
	if err != nil {
		return 0, err
	}

	rate, ok := rates.Rates[currency]
	if !ok || rate <= 0 {
		rates, err = s.GetLatest(ctx, true)
		if err != nil {
			return 0, err
		}
		rate, ok = rates.Rates[currency]
		if !ok || rate <= 0 {
			return 0, newErr("convert_to_usd", fmt.Errorf("no usable rate for currency %s", currency))
		}
	}

	return round2(amount / rate), nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

type openExchangeRatesResponse struct {
	Base      string             `json:"base"`
	Timestamp int64              `json:"timestamp"`
	Rates     map[string]float64 `json:"rates"`
}

func (s *Service) fetch(ctx context.Context) (Rates, error) {
	if s.apiKey == "" {
		return Rates{}, newErr("fetch", fmt.Errorf("no openexchangerates api key configured"))
	}

	u := fmt.Sprintf("%s?app_id=%s", s.baseURL, url.QueryEscape(s.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Rates{}, newErr("fetch", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Rates{}, newErr("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rates{}, newErr("fetch", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Rates{}, newErr("fetch", err)
	}

	var parsed openExchangeRatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Rates{}, newErr("fetch", fmt.Errorf("malformed response: %w", err))
	}

	return s.parse(parsed)
}

func (s *Service) parse(resp openExchangeRatesResponse) (Rates, error) {
	if resp.Base != "USD" {
		return Rates{}, newErr("parse", fmt.Errorf("unexpected base currency %q, want USD", resp.Base))
	}
	if len(resp.Rates) == 0 {
		return Rates{}, newErr("parse", fmt.Errorf("empty rates payload"))
	}

	rates := make(map[string]float64, len(resp.Rates)+1)
	for k, v := range resp.Rates {
		rates[strings.ToUpper(k)] = v
	}
	rates["USD"] = 1.0

	ts := resp.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return Rates{Base: "USD", Timestamp: ts, Rates: rates}, nil
}
