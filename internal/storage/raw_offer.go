package storage

import (
	"context"
	"fmt"
)

// RawOfferStore manages the raw provider buffer.
type RawOfferStore struct{ db Querier }

func NewRawOfferStore(db Querier) *RawOfferStore { return &RawOfferStore{db: db} }

// UpsertInput is the set of provider-observed fields a raw-offer write
// may refresh. Matched-sku linkage is never touched here — only the
// reconciler mutates that.
type UpsertInput struct {
	Source               string
	SourceRequestKey     string
	SourceProductID      *string
	CountryCode          string
	RawTitle             string
	MerchantName         string
	ProductLink          string
	ProductLinkHash      string
	DetailToken          *string
	SecondHandCondition  *string
	Thumbnail            string
	PriceLocal           float64
	Currency             string
	ParsedAttrsJSON      []byte
	FlagsJSON            []byte
}

// Upsert idempotently writes a provider row, conflicting on
// (source, country, source_product_id) when a product id is present,
// else on (source, country, product_link_hash). An update refreshes
// title/merchant/link/token/price/currency/flags/parsed-attrs and the
// source_request_key, and never touches matched_sku_id/match_confidence.
func (s *RawOfferStore) Upsert(ctx context.Context, in UpsertInput) (int64, error) {
	conflictTarget := "(source, country_code, product_link_hash)"
	if in.SourceProductID != nil {
		conflictTarget = "(source, country_code, source_product_id) WHERE source_product_id IS NOT NULL"
	}

	sql := fmt.Sprintf(`
		INSERT INTO raw_offers (
			source, source_request_key, source_product_id, country_code, raw_title, merchant_name,
			product_link, product_link_hash, detail_token, second_hand_condition, thumbnail,
			price_local, currency, parsed_attrs_json, flags_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT %s DO UPDATE SET
			source_request_key = EXCLUDED.source_request_key,
			raw_title = EXCLUDED.raw_title,
			merchant_name = EXCLUDED.merchant_name,
			product_link = EXCLUDED.product_link,
			product_link_hash = EXCLUDED.product_link_hash,
			detail_token = EXCLUDED.detail_token,
			second_hand_condition = EXCLUDED.second_hand_condition,
			thumbnail = EXCLUDED.thumbnail,
			price_local = EXCLUDED.price_local,
			currency = EXCLUDED.currency,
			parsed_attrs_json = EXCLUDED.parsed_attrs_json,
			flags_json = EXCLUDED.flags_json,
			updated_at = now()
		RETURNING id`, conflictTarget)

	var id int64
	err := s.db.QueryRow(ctx, sql,
		in.Source, in.SourceRequestKey, in.SourceProductID, in.CountryCode, in.RawTitle, in.MerchantName,
		in.ProductLink, in.ProductLinkHash, in.DetailToken, in.SecondHandCondition, in.Thumbnail,
		in.PriceLocal, in.Currency, in.ParsedAttrsJSON, in.FlagsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert raw offer: %w", err)
	}
	return id, nil
}

// SelectUnmatched returns unmatched rows ordered oldest-ingested-first,
// optionally scoped to one country, for one reconcile pass.
func (s *RawOfferStore) SelectUnmatched(ctx context.Context, countryCode string, limit int) ([]RawOffer, error) {
	sql := `
		SELECT id, source, source_request_key, source_product_id, country_code, raw_title, merchant_name,
		       product_link, product_link_hash, detail_token, second_hand_condition, thumbnail,
		       price_local, currency, parsed_attrs_json, flags_json, match_reason_codes_json,
		       matched_sku_id, match_confidence, ingested_at
		FROM raw_offers
		WHERE matched_sku_id IS NULL`
	args := []interface{}{}
	if countryCode != "" {
		sql += " AND country_code = $1"
		args = append(args, countryCode)
	}
	sql += fmt.Sprintf(" ORDER BY ingested_at ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: select unmatched: %w", err)
	}
	defer rows.Close()

	var out []RawOffer
	for rows.Next() {
		var r RawOffer
		err := rows.Scan(&r.ID, &r.Source, &r.SourceRequestKey, &r.SourceProductID, &r.CountryCode, &r.RawTitle,
			&r.MerchantName, &r.ProductLink, &r.ProductLinkHash, &r.DetailToken, &r.SecondHandCondition, &r.Thumbnail,
			&r.PriceLocal, &r.Currency, &r.ParsedAttrsJSON, &r.FlagsJSON, &r.MatchReasonCodesJSON,
			&r.MatchedSkuID, &r.MatchConfidence, &r.IngestedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: scan raw offer: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SampleRecent returns the most-recently-ingested limit rows (title +
// link only matter to callers, but the full row is returned for
// convenience), newest first — the sample the pattern suggester scores
// proposed phrases against.
func (s *RawOfferStore) SampleRecent(ctx context.Context, limit int) ([]RawOffer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, source, source_request_key, source_product_id, country_code, raw_title, merchant_name,
		       product_link, product_link_hash, detail_token, second_hand_condition, thumbnail,
		       price_local, currency, parsed_attrs_json, flags_json, match_reason_codes_json,
		       matched_sku_id, match_confidence, ingested_at
		FROM raw_offers ORDER BY ingested_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: sample recent: %w", err)
	}
	defer rows.Close()

	var out []RawOffer
	for rows.Next() {
		var r RawOffer
		err := rows.Scan(&r.ID, &r.Source, &r.SourceRequestKey, &r.SourceProductID, &r.CountryCode, &r.RawTitle,
			&r.MerchantName, &r.ProductLink, &r.ProductLinkHash, &r.DetailToken, &r.SecondHandCondition, &r.Thumbnail,
			&r.PriceLocal, &r.Currency, &r.ParsedAttrsJSON, &r.FlagsJSON, &r.MatchReasonCodesJSON,
			&r.MatchedSkuID, &r.MatchConfidence, &r.IngestedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: scan sampled row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordOutcome persists the reconciler's verdict for one raw row:
// parsed-attrs snapshot (merged upstream, not here), reason codes, and
// optional sku linkage/confidence.
func (s *RawOfferStore) RecordOutcome(ctx context.Context, rawID int64, parsedAttrsJSON, flagsJSON, reasonCodesJSON []byte, matchedSkuID *int64, matchConfidence *float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE raw_offers SET
			parsed_attrs_json = $2,
			flags_json = $3,
			match_reason_codes_json = $4,
			matched_sku_id = $5,
			match_confidence = $6,
			updated_at = now()
		WHERE id = $1`, rawID, parsedAttrsJSON, flagsJSON, reasonCodesJSON, matchedSkuID, matchConfidence)
	if err != nil {
		return fmt.Errorf("storage: record outcome: %w", err)
	}
	return nil
}
