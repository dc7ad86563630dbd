// Package reason implements the closed set of per-row reconciliation
// outcomes as a tagged sum type, per the design note that the stable
// uppercase match_reason_codes strings should be derived from a typed
// outcome rather than built up as ad-hoc dynamic dicts.
package reason

// Code is one stable, uppercase reason string persisted per raw row.
type Code string

const (
	MissingTitle             Code = "MISSING_TITLE"
	SkipMultiVariant         Code = "SKIP_MULTI_VARIANT"
	SkipContract             Code = "SKIP_CONTRACT"
	MissingRequiredAttrs     Code = "MISSING_REQUIRED_ATTRS"
	SkuNotInCatalog          Code = "SKU_NOT_IN_CATALOG"
	FxUnavailable            Code = "FX_UNAVAILABLE"
	DedupKeyConflict         Code = "DEDUP_KEY_CONFLICT"
	DedupMatchExistingOffer  Code = "DEDUP_MATCH_EXISTING_OFFER"
	DeterministicSkuMatch    Code = "DETERMINISTIC_SKU_MATCH"
	LLMMatch                 Code = "LLM_MATCH"
	LLMMatchExistingOffer    Code = "LLM_MATCH_EXISTING_OFFER"
)

// Outcome is the closed set of terminal states a raw row can land in
// during one reconcile pass. Exactly one Outcome applies per row; its
// Codes() are persisted verbatim as match_reason_codes_json.
type Outcome int

const (
	OutcomeSkippedMissingTitle Outcome = iota
	OutcomeSkippedMultiVariant
	OutcomeSkippedContract
	OutcomeSkippedMissingAttrs
	OutcomeSkuNotInCatalog
	OutcomeFxUnavailable
	OutcomeDedupConflict
	OutcomeLinkedExistingOffer
	OutcomeCreatedOffer
)

// Codes returns the match_reason_codes_json payload for an outcome. The
// "via" code distinguishes a deterministic vs. LLM-assisted match for the
// two outcomes where that distinction is persisted.
func (o Outcome) Codes(viaLLM bool) []string {
	switch o {
	case OutcomeSkippedMissingTitle:
		return []string{string(MissingTitle)}
	case OutcomeSkippedMultiVariant:
		return []string{string(SkipMultiVariant)}
	case OutcomeSkippedContract:
		return []string{string(SkipContract)}
	case OutcomeSkippedMissingAttrs:
		return []string{string(MissingRequiredAttrs)}
	case OutcomeSkuNotInCatalog:
		return []string{string(SkuNotInCatalog)}
	case OutcomeFxUnavailable:
		return []string{string(FxUnavailable)}
	case OutcomeDedupConflict:
		return []string{string(DedupKeyConflict)}
	case OutcomeLinkedExistingOffer:
		if viaLLM {
			return []string{string(LLMMatchExistingOffer)}
		}
		return []string{string(DedupMatchExistingOffer)}
	case OutcomeCreatedOffer:
		if viaLLM {
			return []string{string(LLMMatch)}
		}
		return []string{string(DeterministicSkuMatch)}
	default:
		return nil
	}
}
