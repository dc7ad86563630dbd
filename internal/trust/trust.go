// Package trust computes the merchant-tier-based trust score and its
// reason codes for a newly created or refreshed Offer.
package trust

import "strings"

// Tier classifies a merchant's trustworthiness.
type Tier string

const (
	TierOfficial    Tier = "OFFICIAL"
	TierVerified    Tier = "VERIFIED"
	TierMarketplace Tier = "MARKETPLACE"
	TierUnknown     Tier = "UNKNOWN"
)

var baseScores = map[Tier]int{
	TierOfficial:    95,
	TierVerified:    85,
	TierMarketplace: 60,
	TierUnknown:     40,
}

// Factors are the additive/subtractive adjustments applied on top of a
// merchant tier's base score.
type Factors struct {
	MerchantTier          Tier
	HasShippingInfo       bool
	HasWarrantyInfo       bool
	HasReturnPolicy       bool
	PriceWithinExpected   bool
	VerifiedStock         bool
	HasPhysicalAddress    bool
}

// Calculate returns the clamped [0,100] trust score alone.
func Calculate(f Factors) int {
	score, _ := CalculateWithReasons(f)
	return score
}

// CalculateWithReasons returns the score plus the ordered reason codes
// behind it. The tier code is always first; CLAMPED is appended only
// when clamping actually changed the value.
func CalculateWithReasons(f Factors) (int, []string) {
	score := baseScores[f.MerchantTier]
	reasons := []string{"TIER_" + string(f.MerchantTier)}

	if !f.HasShippingInfo {
		score -= 10
		reasons = append(reasons, "MISSING_SHIPPING")
	}
	if !f.HasWarrantyInfo {
		score -= 10
		reasons = append(reasons, "MISSING_WARRANTY")
	}
	if !f.HasReturnPolicy {
		score -= 5
		reasons = append(reasons, "MISSING_RETURN_POLICY")
	}
	if !f.PriceWithinExpected {
		score -= 20
		reasons = append(reasons, "PRICE_ANOMALY")
	}
	if f.VerifiedStock {
		score += 5
		reasons = append(reasons, "VERIFIED_STOCK")
	}
	if f.HasPhysicalAddress {
		score += 5
		reasons = append(reasons, "HAS_PHYSICAL_ADDRESS")
	}

	clamped := score
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 100 {
		clamped = 100
	}
	if clamped != score {
		reasons = append(reasons, "CLAMPED")
	}

	return clamped, reasons
}

// DetectPriceAnomaly reports whether price falls outside the expected
// [min, max] USD band for a sku.
func DetectPriceAnomaly(priceUSD, expectedMin, expectedMax float64) bool {
	return priceUSD < expectedMin || priceUSD > expectedMax
}

var knownMerchants = map[string]Tier{
	"apple store": TierOfficial,
	"apple":       TierOfficial,

	"bic camera":  TierVerified,
	"yodobashi":   TierVerified,
	"mediamarkt":  TierVerified,
	"saturn":      TierVerified,
	"best buy":    TierVerified,
	"fortress hk": TierVerified,
	"sharaf dg":   TierVerified,

	"amazon": TierMarketplace,
	"ebay":   TierMarketplace,
}

// MerchantTierFor classifies a merchant name into a tier using the
// curated lookup table, defaulting to UNKNOWN for anything unrecognized.
func MerchantTierFor(merchantName string) Tier {
	key := strings.ToLower(strings.TrimSpace(merchantName))
	if tier, ok := knownMerchants[key]; ok {
		return tier
	}
	return TierUnknown
}
