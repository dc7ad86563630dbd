// Package provider implements the paid shopping-search API client: cache-
// first search and detail calls, organic+ads parsing, and the five-step
// currency resolution described in the reconciliation design.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcompass/reconciler/internal/cache"
	"github.com/marketcompass/reconciler/internal/debugstore"
	"github.com/marketcompass/reconciler/internal/keys"
)

const defaultBaseURL = "https://serpapi.com/search"

// Client is the shopping-search provider client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	debug      debugstore.Store
	log        zerolog.Logger
}

// NewClient builds a provider client. debug may be debugstore.NoOp{} when
// debug retention is disabled.
func NewClient(apiKey string, c cache.Cache, debug debugstore.Store, log zerolog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      c,
		debug:      debug,
		log:        log.With().Str("component", "provider").Logger(),
	}
}

// WithBaseURL overrides the upstream endpoint, used by tests to point at
// an httptest.Server instead of the real provider.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// SearchShopping runs (or replays from cache) a shopping search query
// for one country/language locale.
func (c *Client) SearchShopping(ctx context.Context, query, gl, hl, location string, useCache bool) ([]ShoppingResult, error) {
	if hl == "" {
		hl = "en"
	}
	cacheKey := cache.Key(cache.PrefixShoppingSearch, keys.RequestKey(query, gl, hl, location)[:16])

	if useCache {
		var cached []ShoppingResult
		if ok, err := c.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("engine", "google_shopping")
	params.Set("q", query)
	params.Set("gl", gl)
	params.Set("hl", hl)
	params.Set("api_key", c.apiKey)
	if location != "" {
		params.Set("location", location)
	}

	body, err := c.get(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("provider: search_shopping: %w", err)
	}

	if c.debug != nil {
		reqKey := keys.RequestKey(query, gl, hl, location)
		_ = c.debug.Put(ctx, reqKey, body)
	}

	var parsed shoppingSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider: search_shopping: malformed response: %w", err)
	}

	results := c.parseShoppingResults(parsed, gl)

	_ = c.cache.SetJSON(ctx, cacheKey, results, cache.ShoppingSearchTTL)
	return results, nil
}

// GetDetail looks up product-detail information (used for the first
// https:// seller link and its total price) for an immersive product
// token.
func (c *Client) GetDetail(ctx context.Context, productID string, useCache bool) (*DetailResult, error) {
	cacheKey := cache.Key(cache.PrefixShoppingDetail, productID)

	if useCache {
		var cached DetailResult
		if ok, err := c.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	params := url.Values{}
	params.Set("engine", "google_immersive_product")
	params.Set("page_token", productID)
	params.Set("api_key", c.apiKey)

	body, err := c.get(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("provider: get_detail: %w", err)
	}

	var parsed detailResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider: get_detail: malformed response: %w", err)
	}

	result := parseDetailResult(parsed)
	if result == nil {
		return nil, nil
	}

	_ = c.cache.SetJSON(ctx, cacheKey, result, cache.ShoppingDetailTTL)
	return result, nil
}

func parseDetailResult(resp detailResponse) *DetailResult {
	for _, seller := range resp.SellersResults.OnlineSellers {
		if strings.HasPrefix(seller.Link, "https://") {
			return &DetailResult{SellerLink: seller.Link, TotalPrice: seller.TotalPrice}
		}
	}
	return nil
}

func (c *Client) parseShoppingResults(resp shoppingSearchResponse, gl string) []ShoppingResult {
	var out []ShoppingResult

	for _, item := range resp.ShoppingResults {
		if item.ProductID == "" || item.ExtractedPrice <= 0 {
			continue
		}
		out = append(out, c.toShoppingResult(item, gl))
	}

	for _, item := range resp.InlineShoppingResults {
		if item.ExtractedPrice <= 0 {
			continue
		}
		if item.ProductID == "" {
			link := item.ProductLink
			if link == "" {
				link = item.Link
			}
			if link == "" {
				continue
			}
			item.ProductID = keys.LinkHash(link)[:16]
		}
		out = append(out, c.toShoppingResult(item, gl))
	}

	return out
}

func (c *Client) toShoppingResult(item rawShoppingItem, gl string) ShoppingResult {
	link := item.ProductLink
	if link == "" {
		link = item.Link
	}
	token := item.SerpAPIProductAPI
	if token == "" {
		token = item.SerpAPIImmersiveAPI
	}

	return ShoppingResult{
		ProductID:           item.ProductID,
		Title:               item.Title,
		Price:               item.ExtractedPrice,
		Currency:            extractCurrency(item, gl),
		Merchant:            item.Source,
		ProductLink:         link,
		ImmersiveToken:      token,
		Thumbnail:           item.Thumbnail,
		SecondHandCondition: item.SecondHandCondition,
	}
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", strconv.Itoa(resp.StatusCode))
	}

	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
