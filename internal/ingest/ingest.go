// Package ingest composes the provider client, parser, and pattern
// engine into the raw-offer writer: one query's worth of shopping
// results turned into idempotent raw_offers rows.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketcompass/reconciler/internal/keys"
	"github.com/marketcompass/reconciler/internal/parser"
	"github.com/marketcompass/reconciler/internal/patterns"
	"github.com/marketcompass/reconciler/internal/provider"
	"github.com/marketcompass/reconciler/internal/storage"
)

// Query describes one provider search to run and persist.
type Query struct {
	Text        string
	GL          string
	HL          string
	Location    string
	CountryCode string
	Source      string
}

// Stats summarizes one ingest call.
type Stats struct {
	Fetched int
	Written int
}

// Writer runs provider searches and upserts the results into the raw
// buffer, tagged with the pattern engine's contract/multi-variant flags
// and the parser's best-effort attribute snapshot.
type Writer struct {
	provider *provider.Client
	raws     *storage.RawOfferStore
	phrases  *storage.PatternPhraseStore
	log      zerolog.Logger
}

// New builds a Writer.
func New(p *provider.Client, raws *storage.RawOfferStore, phrases *storage.PatternPhraseStore, log zerolog.Logger) *Writer {
	return &Writer{provider: p, raws: raws, phrases: phrases, log: log.With().Str("component", "ingest").Logger()}
}

// Run executes q and upserts every returned result into the raw buffer.
func (w *Writer) Run(ctx context.Context, q Query) (Stats, error) {
	var stats Stats

	bundle, err := w.loadBundle(ctx)
	if err != nil {
		return stats, fmt.Errorf("ingest: load patterns: %w", err)
	}

	results, err := w.provider.SearchShopping(ctx, q.Text, q.GL, q.HL, q.Location, true)
	if err != nil {
		return stats, fmt.Errorf("ingest: search shopping: %w", err)
	}
	stats.Fetched = len(results)

	requestKey := keys.RequestKey(q.Text, q.GL, q.HL, q.Location)

	for _, r := range results {
		if r.ProductLink == "" || r.Price <= 0 {
			continue
		}

		linkHash := keys.LinkHash(r.ProductLink)
		parsed := parser.Extract(r.Title)
		isContract := patterns.DetectIsContract(r.Title, r.ProductLink, bundle)
		isMultiVariant := parser.DetectMultiVariant(r.Title)

		attrsJSON, _ := json.Marshal(map[string]interface{}{
			"model":      parsed.Attributes.Model,
			"storage":    parsed.Attributes.Storage,
			"color":      parsed.Attributes.Color,
			"confidence": string(parsed.Confidence),
		})
		flagsJSON, _ := json.Marshal(map[string]bool{
			"is_multi_variant": isMultiVariant,
			"is_contract":      isContract,
		})

		var productID *string
		if r.ProductID != "" {
			productID = &r.ProductID
		}
		var detailToken *string
		if r.ImmersiveToken != "" {
			detailToken = &r.ImmersiveToken
		}
		var secondHand *string
		if r.SecondHandCondition != "" {
			secondHand = &r.SecondHandCondition
		}

		_, err := w.raws.Upsert(ctx, storage.UpsertInput{
			Source: q.Source, SourceRequestKey: requestKey, SourceProductID: productID,
			CountryCode: q.CountryCode, RawTitle: r.Title, MerchantName: r.Merchant,
			ProductLink: r.ProductLink, ProductLinkHash: linkHash, DetailToken: detailToken,
			SecondHandCondition: secondHand, Thumbnail: r.Thumbnail,
			PriceLocal: r.Price, Currency: r.Currency,
			ParsedAttrsJSON: attrsJSON, FlagsJSON: flagsJSON,
		})
		if err != nil {
			w.log.Warn().Err(err).Str("product_link", r.ProductLink).Msg("failed to upsert raw offer")
			continue
		}
		stats.Written++
	}

	return stats, nil
}

func (w *Writer) loadBundle(ctx context.Context) (patterns.Bundle, error) {
	admin, err := w.phrases.LoadEnabled(ctx)
	if err != nil {
		return patterns.Bundle{}, err
	}
	return patterns.LoadBundle(admin), nil
}
