package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// OfferStore manages the promoted, ranking-ready offer table.
type OfferStore struct{ db Querier }

func NewOfferStore(db Querier) *OfferStore { return &OfferStore{db: db} }

// FindByDedupKey looks up an existing offer by its unique dedup key, the
// basis for the reconciler's dedup-match-vs-conflict decision.
func (s *OfferStore) FindByDedupKey(ctx context.Context, dedupKey string) (*Offer, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, sku_id, merchant_id, dedup_key, country_code, merchant_name, city, price_local, currency,
		       price_usd, final_effective_price, price_local_formatted, trust_score, trust_reason_codes_json,
		       availability, condition, sim_variant, warranty_info, restrictions, provider_link, merchant_url,
		       detail_token, unknown_shipping, unknown_refund, source, match_confidence, match_reason_codes_json
		FROM offers WHERE dedup_key = $1`, dedupKey)

	o, err := scanOffer(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find offer by dedup key: %w", err)
	}
	return o, nil
}

// Create inserts a new offer with source="reconcile" semantics set by
// the caller via o.Source.
func (s *OfferStore) Create(ctx context.Context, o Offer) (int64, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO offers (
			sku_id, merchant_id, dedup_key, country_code, merchant_name, city, price_local, currency,
			price_usd, final_effective_price, price_local_formatted, trust_score, trust_reason_codes_json,
			availability, condition, sim_variant, warranty_info, restrictions, provider_link, merchant_url,
			detail_token, unknown_shipping, unknown_refund, source, match_confidence, match_reason_codes_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		RETURNING id`,
		o.SkuID, o.MerchantID, o.DedupKey, o.CountryCode, o.MerchantName, o.City, o.PriceLocal, o.Currency,
		o.PriceUSD, o.FinalEffectivePrice, o.PriceLocalFormatted, o.TrustScore, o.TrustReasonCodesJSON,
		o.Availability, o.Condition, o.SimVariant, o.WarrantyInfo, o.Restrictions, o.ProviderLink, o.MerchantURL,
		o.DetailToken, o.UnknownShipping, o.UnknownRefund, o.Source, o.MatchConfidence, o.MatchReasonCodesJSON)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: create offer: %w", err)
	}
	return id, nil
}

// RefreshPrice updates price_usd/final_effective_price for an existing
// offer found again on a later reconcile run.
func (s *OfferStore) RefreshPrice(ctx context.Context, offerID int64, priceUSD, finalEffectivePrice float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE offers SET price_usd = $2, final_effective_price = $3, updated_at = now() WHERE id = $1`,
		offerID, priceUSD, finalEffectivePrice)
	if err != nil {
		return fmt.Errorf("storage: refresh offer price: %w", err)
	}
	return nil
}

func scanOffer(row rowScanner) (*Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.SkuID, &o.MerchantID, &o.DedupKey, &o.CountryCode, &o.MerchantName, &o.City,
		&o.PriceLocal, &o.Currency, &o.PriceUSD, &o.FinalEffectivePrice, &o.PriceLocalFormatted, &o.TrustScore,
		&o.TrustReasonCodesJSON, &o.Availability, &o.Condition, &o.SimVariant, &o.WarrantyInfo, &o.Restrictions,
		&o.ProviderLink, &o.MerchantURL, &o.DetailToken, &o.UnknownShipping, &o.UnknownRefund, &o.Source,
		&o.MatchConfidence, &o.MatchReasonCodesJSON)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
