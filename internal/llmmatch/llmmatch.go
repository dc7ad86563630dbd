// Package llmmatch implements the candidate-set sku matcher: a cached,
// single-flighted call to an external LLM that picks (or declines to
// pick) the catalog sku_key a raw offer's title most likely describes.
package llmmatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/marketcompass/reconciler/internal/cache"
	"github.com/marketcompass/reconciler/internal/keys"
	"github.com/marketcompass/reconciler/internal/llmretry"
)

// Decision is the validated outcome of a matcher call.
type Decision struct {
	IsAccessory bool    `json:"is_accessory"`
	IsBundle    bool    `json:"is_bundle"`
	IsContract  bool    `json:"is_contract"`
	SkuKey      string  `json:"sku_key,omitempty"`
	Confidence  float64 `json:"match_confidence,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	// Chosen reports whether match.sku_key validated against candidates.
	// A Decision with Chosen=false is still cached and still persisted
	// as the "attempted" record, so no future run re-calls the LLM.
	Chosen bool `json:"-"`
}

type rawResponse struct {
	IsAccessory bool `json:"is_accessory"`
	IsBundle    bool `json:"is_bundle"`
	IsContract  bool `json:"is_contract"`
	Match       struct {
		SkuKey     string  `json:"sku_key"`
		Confidence float64 `json:"match_confidence"`
		Reason     string  `json:"reason"`
	} `json:"match"`
}

// Matcher calls the LLM to resolve a raw offer's title against a bounded
// candidate set of catalog sku_keys.
type Matcher struct {
	retry *llmretry.Wrapper
	cache cache.Cache
	log   zerolog.Logger
}

// New builds a matcher. llm is wrapped in the shared retry/backoff
// contract internally.
func New(llm llms.Model, c cache.Cache, log zerolog.Logger) *Matcher {
	log = log.With().Str("component", "llmmatch").Logger()
	return &Matcher{
		retry: llmretry.New(llm, llmretry.DefaultConfig(), log),
		cache: c,
		log:   log,
	}
}

// Match resolves title (+ optional condition/merchant hints) against
// candidates, a stably-ordered list of catalog sku_keys already scoped
// by model/condition/storage. A nil, nil return means "no match" — the
// caller treats that the same as any other non-match, not as an error.
func (m *Matcher) Match(ctx context.Context, title, condition, merchant string, candidates []string) (*Decision, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	cacheKey := cache.Key(cache.PrefixLLMParse, matchCacheFragment(title, condition, merchant, candidates))

	if cached, ok := m.tryCached(ctx, cacheKey, candidates); ok {
		return cached, nil
	}

	lockKey := cache.Key(cache.PrefixLLMParseLock, keys.HashHex(cacheKey, 40))
	acquired, err := m.cache.AcquireLock(ctx, lockKey, cache.LLMParseLockTTL)
	if err != nil {
		return nil, fmt.Errorf("llmmatch: acquire lock: %w", err)
	}
	if !acquired {
		m.log.Debug().Str("cache_key", cacheKey).Msg("matcher lock held elsewhere, deferring")
		return nil, nil
	}
	defer func() { _ = m.cache.ReleaseLock(ctx, lockKey) }()

	if cached, ok := m.tryCached(ctx, cacheKey, candidates); ok {
		return cached, nil
	}

	raw, callErr := m.call(ctx, title, condition, merchant, candidates)
	if raw != nil {
		_ = m.cache.Set(ctx, cacheKey, raw, cache.LLMParseTTL)
	}
	if callErr != nil {
		m.log.Debug().Err(callErr).Msg("llm match call failed")
		return nil, nil
	}

	return validate(raw, candidates), nil
}

func (m *Matcher) tryCached(ctx context.Context, cacheKey string, candidates []string) (*Decision, bool) {
	raw, found, err := m.cache.Get(ctx, cacheKey)
	if err != nil || !found {
		return nil, false
	}
	return validate(raw, candidates), true
}

func (m *Matcher) call(ctx context.Context, title, condition, merchant string, candidates []string) ([]byte, error) {
	prompt := buildPrompt(title, condition, merchant, candidates)

	resp, err := m.retry.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("llmmatch: generate content: %w", err)
	}

	text := ""
	if resp != nil && len(resp.Choices) > 0 {
		text = resp.Choices[0].Content
	}

	block, ok := firstJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("llmmatch: no json object in response")
	}
	return []byte(block), nil
}

// validate parses raw against candidates, returning a Decision whose
// Chosen field reflects whether match.sku_key is one of candidates. A
// malformed payload yields an unchosen Decision rather than an error,
// matching the "never throws" failure semantics of the matcher contract.
func validate(raw []byte, candidates []string) *Decision {
	var parsed rawResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &Decision{Chosen: false}
	}

	d := &Decision{
		IsAccessory: parsed.IsAccessory,
		IsBundle:    parsed.IsBundle,
		IsContract:  parsed.IsContract,
		SkuKey:      parsed.Match.SkuKey,
		Confidence:  clamp01(parsed.Match.Confidence),
		Reason:      parsed.Match.Reason,
	}

	for _, c := range candidates {
		if c == d.SkuKey {
			d.Chosen = true
			return d
		}
	}

	d.SkuKey = ""
	d.Chosen = false
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func matchCacheFragment(title, condition, merchant string, candidates []string) string {
	fp := keys.CandidatesFingerprint(candidates)
	joined := strings.Join([]string{title, condition, merchant, fp}, "|")
	return keys.HashHex(joined, 40)
}

func buildPrompt(title, condition, merchant string, candidates []string) string {
	var b strings.Builder
	b.WriteString("You are a strict product-matching classifier for a curated catalog of iPhone SKUs.\n")
	b.WriteString("Given a marketplace listing title, decide whether it is an accessory, a bundle, a carrier contract offer, and if it describes exactly one of the candidate SKUs below, choose it.\n\n")
	fmt.Fprintf(&b, "LISTING TITLE: %s\n", title)
	if condition != "" {
		fmt.Fprintf(&b, "CONDITION HINT: %s\n", condition)
	}
	if merchant != "" {
		fmt.Fprintf(&b, "MERCHANT: %s\n", merchant)
	}
	b.WriteString("\nCANDIDATE SKU KEYS (choose one of these exactly, or none):\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString(`
Respond with exactly one JSON object and nothing else:
{"is_accessory": bool, "is_bundle": bool, "is_contract": bool, "match": {"sku_key": "<one of the candidates, or empty string if none fit>", "match_confidence": <0..1>, "reason": "<short reason>"}}
`)
	return b.String()
}

// firstJSONObject returns the first balanced {...} block in s.
func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
