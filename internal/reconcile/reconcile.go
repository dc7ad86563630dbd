// Package reconcile implements the row-by-row state machine that walks
// the raw offer buffer and promotes matchable rows into deduplicated,
// sku-linked offers.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/marketcompass/reconciler/internal/fx"
	"github.com/marketcompass/reconciler/internal/keys"
	"github.com/marketcompass/reconciler/internal/llmmatch"
	"github.com/marketcompass/reconciler/internal/parser"
	"github.com/marketcompass/reconciler/internal/patterns"
	"github.com/marketcompass/reconciler/internal/reason"
	"github.com/marketcompass/reconciler/internal/storage"
	"github.com/marketcompass/reconciler/internal/trust"
)

// Options scopes one reconcile invocation.
type Options struct {
	Limit       int
	CountryCode string
	DryRun      bool
}

// Stats summarizes one invocation's row outcomes and LLM budget usage.
type Stats struct {
	Processed int

	Created            int
	LinkedExistingOffer int
	DedupConflict      int

	SkippedMissingTitle    int
	SkippedMultiVariant    int
	SkippedContract        int
	SkippedMissingAttrs    int
	SkippedSkuNotInCatalog int
	SkippedFxUnavailable   int

	LLMBudget        int
	LLMExternalCalls int
	LLMReused        int
	LLMSkippedBudget int
}

const debugSampleCap = 20

// Debug carries bounded samples useful for operator inspection of one run.
type Debug struct {
	CreatedOfferIDs  []int64
	MatchedRawIDs    []int64
	ReasonCodeSample map[string][]int64
}

func newDebug() *Debug {
	return &Debug{ReasonCodeSample: map[string][]int64{}}
}

func (d *Debug) noteReason(code reason.Code, rawID int64) {
	samples := d.ReasonCodeSample[string(code)]
	if len(samples) < debugSampleCap {
		d.ReasonCodeSample[string(code)] = append(samples, rawID)
	}
}

func (d *Debug) noteCreated(offerID int64) {
	if len(d.CreatedOfferIDs) < debugSampleCap {
		d.CreatedOfferIDs = append(d.CreatedOfferIDs, offerID)
	}
}

func (d *Debug) noteMatched(rawID int64) {
	if len(d.MatchedRawIDs) < debugSampleCap {
		d.MatchedRawIDs = append(d.MatchedRawIDs, rawID)
	}
}

// Reconciler is the scheduler that consumes the raw buffer and produces
// offers. A single instance processes one invocation at a time and holds
// no mutable cross-invocation state beyond its dependencies.
type Reconciler struct {
	rawOffers *storage.RawOfferStore
	offers    *storage.OfferStore
	skus      *storage.GoldenSkuStore
	merchants *storage.MerchantStore
	phrases   *storage.PatternPhraseStore
	fxSvc     *fx.Service
	matcher   *llmmatch.Matcher

	llmEnabled    bool
	llmMaxCalls   int
	llmMaxFrac    float64

	log zerolog.Logger
}

// Deps bundles the Reconciler's wiring.
type Deps struct {
	RawOffers *storage.RawOfferStore
	Offers    *storage.OfferStore
	Skus      *storage.GoldenSkuStore
	Merchants *storage.MerchantStore
	Phrases   *storage.PatternPhraseStore
	FX        *fx.Service
	Matcher   *llmmatch.Matcher

	LLMEnabled            bool
	LLMMaxCalls           int
	LLMMaxFractionPerRun  float64
}

// New builds a Reconciler.
func New(d Deps, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		rawOffers: d.RawOffers, offers: d.Offers, skus: d.Skus, merchants: d.Merchants, phrases: d.Phrases,
		fxSvc: d.FX, matcher: d.Matcher,
		llmEnabled: d.LLMEnabled, llmMaxCalls: d.LLMMaxCalls, llmMaxFrac: d.LLMMaxFractionPerRun,
		log: log.With().Str("component", "reconciler").Logger(),
	}
}

// Run walks up to opts.Limit unmatched raw rows and returns the stats and
// debug sample for the invocation. The caller supplies dry-run semantics
// by rolling back its own transaction after inspecting Stats — Run itself
// never commits or rolls back anything.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Stats, *Debug, error) {
	stats := &Stats{LLMBudget: r.llmBudget(opts.Limit)}
	debug := newDebug()

	bundle, err := r.loadPatternBundle(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: load patterns: %w", err)
	}

	rates, ratesErr := r.fxSvc.GetLatest(ctx, false)
	fxAvailable := ratesErr == nil

	rows, err := r.rawOffers.SelectUnmatched(ctx, opts.CountryCode, opts.Limit)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: select unmatched: %w", err)
	}

	for _, row := range rows {
		stats.Processed++
		r.processRow(ctx, row, bundle, rates, fxAvailable, stats, debug)
	}

	return stats, debug, nil
}

func (r *Reconciler) llmBudget(limit int) int {
	if !r.llmEnabled {
		return 0
	}
	budget := int(math.Floor(float64(limit) * r.llmMaxFrac))
	if budget > r.llmMaxCalls {
		budget = r.llmMaxCalls
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

func (r *Reconciler) loadPatternBundle(ctx context.Context) (patterns.Bundle, error) {
	admin, err := r.phrases.LoadEnabled(ctx)
	if err != nil {
		return patterns.Bundle{}, err
	}
	return patterns.LoadBundle(admin), nil
}

// parsedAttrs is the JSON shape of raw_offers.parsed_attrs_json. Fields
// use `omitempty` so a merge never writes zero-valued placeholders over
// fields it didn't touch this run.
type parsedAttrs struct {
	Model     string `json:"model,omitempty"`
	Storage   string `json:"storage,omitempty"`
	Color     string `json:"color,omitempty"`
	Condition string `json:"condition,omitempty"`

	LLMAttempted             bool    `json:"llm_attempted,omitempty"`
	LLMCandidatesCount       int     `json:"llm_candidates_count,omitempty"`
	LLMCandidatesFingerprint string  `json:"llm_candidates_fingerprint,omitempty"`
	LLMChosenSkuKey          string  `json:"llm_chosen_sku_key,omitempty"`
	LLMMatchConfidence       float64 `json:"llm_match_confidence,omitempty"`
	LLM                      *llmmatch.Decision `json:"llm,omitempty"`
}

func loadParsedAttrs(raw []byte) parsedAttrs {
	var p parsedAttrs
	if len(raw) == 0 {
		return p
	}
	_ = json.Unmarshal(raw, &p)
	return p
}

func (p parsedAttrs) marshal() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

type flags struct {
	IsMultiVariant bool `json:"is_multi_variant,omitempty"`
	IsContract     bool `json:"is_contract,omitempty"`
}

func (f flags) marshal() []byte {
	b, err := json.Marshal(f)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

func codesJSON(codes []string) []byte {
	b, err := json.Marshal(codes)
	if err != nil {
		return []byte(`[]`)
	}
	return b
}

// processRow implements the eight-step per-row state machine. It never
// returns an error: per-row failures are logged (Stats has no failure
// counter), and the row is left for a future run rather than aborting the
// invocation.
func (r *Reconciler) processRow(ctx context.Context, row storage.RawOffer, bundle patterns.Bundle, rates fx.Rates, fxAvailable bool, stats *Stats, debug *Debug) {
	attrs := loadParsedAttrs(row.ParsedAttrsJSON)

	// 1. Empty title.
	if row.RawTitle == "" {
		stats.SkippedMissingTitle++
		r.finish(ctx, row, attrs, flags{}, reason.OutcomeSkippedMissingTitle, false, nil, nil, debug)
		return
	}

	// 2. Multi-variant detection.
	if parser.DetectMultiVariant(row.RawTitle) {
		stats.SkippedMultiVariant++
		r.finish(ctx, row, attrs, flags{IsMultiVariant: true}, reason.OutcomeSkippedMultiVariant, false, nil, nil, debug)
		return
	}

	// 3. Contract detection.
	isContract := patterns.DetectIsContract(row.RawTitle, row.ProductLink, bundle)
	if isContract {
		stats.SkippedContract++
		r.finish(ctx, row, attrs, flags{IsContract: true}, reason.OutcomeSkippedContract, false, nil, nil, debug)
		return
	}

	// 4-5. Parse and merge the deterministic snapshot (without losing LLM fields).
	parsed := parser.Extract(row.RawTitle)
	secondHand := ""
	if row.SecondHandCondition != nil {
		secondHand = *row.SecondHandCondition
	}
	condition := parser.NormalizeCondition(secondHand)

	attrs.Model = parsed.Attributes.Model
	attrs.Storage = parsed.Attributes.Storage
	attrs.Color = parsed.Attributes.Color
	attrs.Condition = condition
	f := flags{IsMultiVariant: false, IsContract: false}

	if attrs.Model == "" {
		stats.SkippedMissingAttrs++
		r.finish(ctx, row, attrs, f, reason.OutcomeSkippedMissingAttrs, false, nil, nil, debug)
		return
	}

	// 6. Reuse a prior LLM decision. A row only reaches here again after
	// failing the FX or dedup tail on an earlier run — the chosen sku is
	// looked up directly by its stored key rather than re-derived from
	// storage/color, which the parser can never recover from the title.
	if attrs.LLMAttempted && attrs.LLMChosenSkuKey != "" {
		sku, err := r.skus.FindBySkuKey(ctx, attrs.LLMChosenSkuKey)
		if err != nil {
			r.log.Warn().Err(err).Int64("raw_id", row.ID).Msg("llm-reused sku lookup failed")
		}
		if sku != nil {
			attrs.Storage = sku.Storage
			attrs.Color = sku.Color
			stats.LLMReused++
			confidence := attrs.LLMMatchConfidence
			r.linkSku(ctx, row, attrs, f, condition, rates, fxAvailable, true, &confidence, sku, stats, debug)
			return
		}
		// The stored key no longer resolves against the catalog; fall
		// through and treat the row as missing attrs below.
	}

	// 7. Deterministic path.
	if attrs.Storage != "" && attrs.Color != "" {
		r.resolveSkuAndLink(ctx, row, attrs, f, condition, rates, fxAvailable, false, nil, stats, debug)
		return
	}

	// 8. LLM-candidate path.
	if r.llmEnabled && !attrs.LLMAttempted && stats.LLMExternalCalls < stats.LLMBudget {
		candidates, err := r.skus.CandidatesFor(ctx, attrs.Model, condition, 50)
		if err != nil {
			r.log.Warn().Err(err).Int64("raw_id", row.ID).Msg("failed to load llm candidates")
		}
		skuKeys := make([]string, len(candidates))
		for i, c := range candidates {
			skuKeys[i] = c.SkuKey
		}

		decision, err := r.matcher.Match(ctx, row.RawTitle, condition, row.MerchantName, skuKeys)
		stats.LLMExternalCalls++
		attrs.LLMAttempted = true
		attrs.LLMCandidatesCount = len(skuKeys)
		attrs.LLMCandidatesFingerprint = keys.CandidatesFingerprint(skuKeys)
		if err != nil {
			r.log.Debug().Err(err).Int64("raw_id", row.ID).Msg("llm match call errored")
		}
		if decision != nil {
			attrs.LLM = decision
			if decision.Chosen {
				attrs.LLMChosenSkuKey = decision.SkuKey
				attrs.LLMMatchConfidence = decision.Confidence
				// The chosen candidate already carries the storage/color the
				// parser couldn't extract from the title; adopt them so the
				// shared resolveSkuAndLink tail composes the identical key.
				for _, c := range candidates {
					if c.SkuKey == decision.SkuKey {
						attrs.Storage = c.Storage
						attrs.Color = c.Color
						break
					}
				}
				r.resolveSkuAndLink(ctx, row, attrs, f, condition, rates, fxAvailable, true, &decision.Confidence, stats, debug)
				return
			}
		}

		stats.SkippedMissingAttrs++
		r.finish(ctx, row, attrs, f, reason.OutcomeSkippedMissingAttrs, false, nil, nil, debug)
		return
	}

	if r.llmEnabled && !attrs.LLMAttempted {
		stats.LLMSkippedBudget++
	}

	stats.SkippedMissingAttrs++
	r.finish(ctx, row, attrs, f, reason.OutcomeSkippedMissingAttrs, false, nil, nil, debug)
}

// resolveSkuAndLink implements the shared tail of the deterministic and
// LLM-candidate paths: sku lookup, FX conversion, dedup, create-or-link.
func (r *Reconciler) resolveSkuAndLink(ctx context.Context, row storage.RawOffer, attrs parsedAttrs, f flags, condition string, rates fx.Rates, fxAvailable bool, viaLLM bool, llmConfidence *float64, stats *Stats, debug *Debug) {
	skuKey := keys.ComposeSkuKey(keys.SkuAttributes{
		Model: attrs.Model, Storage: attrs.Storage, Color: attrs.Color, Condition: condition,
	})

	sku, err := r.skus.FindBySkuKey(ctx, skuKey)
	if err != nil {
		r.log.Warn().Err(err).Int64("raw_id", row.ID).Msg("sku lookup failed")
	}
	if sku == nil {
		stats.SkippedSkuNotInCatalog++
		r.finish(ctx, row, attrs, f, reason.OutcomeSkuNotInCatalog, viaLLM, nil, nil, debug)
		return
	}

	r.linkSku(ctx, row, attrs, f, condition, rates, fxAvailable, viaLLM, llmConfidence, sku, stats, debug)
}

// linkSku implements the FX/dedup/create-or-link tail shared by a freshly
// resolved sku and a reused LLM decision's sku.
func (r *Reconciler) linkSku(ctx context.Context, row storage.RawOffer, attrs parsedAttrs, f flags, condition string, rates fx.Rates, fxAvailable bool, viaLLM bool, llmConfidence *float64, sku *storage.GoldenSku, stats *Stats, debug *Debug) {
	var priceUSD float64
	if row.Currency == "USD" {
		priceUSD = row.PriceLocal
	} else if !fxAvailable {
		stats.SkippedFxUnavailable++
		r.finish(ctx, row, attrs, f, reason.OutcomeFxUnavailable, viaLLM, nil, nil, debug)
		return
	} else {
		converted, convErr := r.fxSvc.ConvertToUSD(ctx, row.PriceLocal, row.Currency)
		if convErr != nil {
			stats.SkippedFxUnavailable++
			r.finish(ctx, row, attrs, f, reason.OutcomeFxUnavailable, viaLLM, nil, nil, debug)
			return
		}
		priceUSD = converted
	}

	dedupKey := keys.ComposeDedupKey(row.MerchantName, row.PriceLocal, row.Currency, row.ProductLink)

	existing, err := r.offers.FindByDedupKey(ctx, dedupKey)
	if err != nil {
		r.log.Warn().Err(err).Int64("raw_id", row.ID).Msg("dedup lookup failed")
	}

	if existing != nil {
		if existing.SkuID == sku.ID {
			stats.LinkedExistingOffer++
			confidence := 1.0
			if llmConfidence != nil {
				confidence = *llmConfidence
			}
			_ = r.offers.RefreshPrice(ctx, existing.ID, priceUSD, priceUSD)
			debug.noteMatched(row.ID)
			r.finish(ctx, row, attrs, f, reason.OutcomeLinkedExistingOffer, viaLLM, &sku.ID, &confidence, debug)
			return
		}
		stats.DedupConflict++
		r.finish(ctx, row, attrs, f, reason.OutcomeDedupConflict, viaLLM, nil, nil, debug)
		return
	}

	merchant, merr := r.merchants.EnsureExists(ctx, keys.Normalize(row.MerchantName), row.MerchantName)
	tier := trust.TierUnknown
	if merr == nil && merchant != nil {
		tier = trust.Tier(merchant.Tier)
		if tier == "" {
			tier = trust.MerchantTierFor(row.MerchantName)
		}
	} else {
		tier = trust.MerchantTierFor(row.MerchantName)
	}

	trustScore, trustReasons := trust.CalculateWithReasons(trust.Factors{
		MerchantTier:        tier,
		PriceWithinExpected: true,
	})

	confidence := 1.0
	reasonCode := reason.OutcomeCreatedOffer
	if llmConfidence != nil {
		confidence = *llmConfidence
	}

	var merchantID *int64
	if merchant != nil {
		merchantID = &merchant.ID
	}

	offerID, err := r.offers.Create(ctx, storage.Offer{
		SkuID: sku.ID, MerchantID: merchantID, DedupKey: dedupKey, CountryCode: row.CountryCode,
		MerchantName: row.MerchantName, PriceLocal: row.PriceLocal, Currency: row.Currency,
		PriceUSD: priceUSD, FinalEffectivePrice: priceUSD,
		PriceLocalFormatted: formatPrice(row.PriceLocal, row.Currency),
		TrustScore: trustScore, TrustReasonCodesJSON: codesJSON(trustReasons),
		Availability: "unknown", Condition: condition, ProviderLink: row.ProductLink,
		DetailToken: row.DetailToken, Source: "reconcile", MatchConfidence: confidence,
		MatchReasonCodesJSON: codesJSON(reasonCode.Codes(viaLLM)),
	})
	if err != nil {
		r.log.Warn().Err(err).Int64("raw_id", row.ID).Msg("offer create failed")
		return
	}

	stats.Created++
	debug.noteCreated(offerID)
	debug.noteMatched(row.ID)
	r.finish(ctx, row, attrs, f, reasonCode, viaLLM, &sku.ID, &confidence, debug)
}

func (r *Reconciler) finish(ctx context.Context, row storage.RawOffer, attrs parsedAttrs, f flags, outcome reason.Outcome, viaLLM bool, matchedSkuID *int64, matchConfidence *float64, debug *Debug) {
	codes := outcome.Codes(viaLLM)
	for _, c := range codes {
		debug.noteReason(reason.Code(c), row.ID)
	}
	if err := r.rawOffers.RecordOutcome(ctx, row.ID, attrs.marshal(), f.marshal(), codesJSON(codes), matchedSkuID, matchConfidence); err != nil {
		r.log.Warn().Err(err).Int64("raw_id", row.ID).Msg("failed to record row outcome")
	}
}

func formatPrice(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}
