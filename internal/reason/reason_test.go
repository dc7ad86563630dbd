package reason

import "testing"

func TestCodes_CreatedOfferDistinguishesLLMVsDeterministic(t *testing.T) {
	if got := OutcomeCreatedOffer.Codes(false); len(got) != 1 || got[0] != string(DeterministicSkuMatch) {
		t.Fatalf("got %v", got)
	}
	if got := OutcomeCreatedOffer.Codes(true); len(got) != 1 || got[0] != string(LLMMatch) {
		t.Fatalf("got %v", got)
	}
}

func TestCodes_LinkedExistingOfferDistinguishesLLMVsDeterministic(t *testing.T) {
	if got := OutcomeLinkedExistingOffer.Codes(false); len(got) != 1 || got[0] != string(DedupMatchExistingOffer) {
		t.Fatalf("got %v", got)
	}
	if got := OutcomeLinkedExistingOffer.Codes(true); len(got) != 1 || got[0] != string(LLMMatchExistingOffer) {
		t.Fatalf("got %v", got)
	}
}

func TestCodes_SkipOutcomesIgnoreViaLLM(t *testing.T) {
	if got := OutcomeSkippedContract.Codes(true); len(got) != 1 || got[0] != string(SkipContract) {
		t.Fatalf("got %v", got)
	}
}
