package suggest

import "testing"

func TestSplitBatches(t *testing.T) {
	items := make([]batchItem, 10)
	for i := range items {
		items[i] = batchItem{Title: "t"}
	}
	batches := splitBatches(items, 2, 20)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != 10 {
		t.Fatalf("total items across batches = %d, want 10", total)
	}
}

func TestSplitBatches_RespectsItemsPerBatchCap(t *testing.T) {
	items := make([]batchItem, 100)
	batches := splitBatches(items, 1, 20)
	if len(batches) != 1 || len(batches[0]) != 20 {
		t.Fatalf("got %v batches, want one batch capped at 20", batches)
	}
}

func TestDedupeProposals_KeepsMaxConfidencePerPhrase(t *testing.T) {
	proposals := []batchProposal{
		{Phrase: "Used", Confidence: 0.4},
		{Phrase: "used", Confidence: 0.9},
		{Phrase: "  used  ", Confidence: 0.1},
	}
	out := dedupeProposals(proposals, 30)
	if len(out) != 1 {
		t.Fatalf("got %d entries, want 1 deduped entry", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Fatalf("confidence = %v, want max 0.9", out[0].Confidence)
	}
}

func TestDedupeProposals_DropsTooShortOrTooLong(t *testing.T) {
	proposals := []batchProposal{
		{Phrase: "a"},
		{Phrase: "ok phrase"},
		{Phrase: "this phrase is far too long to be kept because it runs past the eighty character limit"},
	}
	out := dedupeProposals(proposals, 30)
	if len(out) != 1 || out[0].Phrase != "ok phrase" {
		t.Fatalf("got %v", out)
	}
}

func TestScorePhrase_CountsAndCapsExamples(t *testing.T) {
	items := []batchItem{
		{Title: "Used iPhone 16", Link: "https://x"},
		{Title: "Used iPhone 15", Link: "https://y"},
		{Title: "Brand new iPhone 14", Link: "https://z"},
	}
	count, examples := scorePhrase("used", items)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if len(examples) != 2 {
		t.Fatalf("examples = %v, want 2", examples)
	}
}

func TestSampleFingerprint_Deterministic(t *testing.T) {
	items := []batchItem{{Title: "a", Link: "b"}, {Title: "c", Link: "d"}}
	if sampleFingerprint(items) != sampleFingerprint(items) {
		t.Fatalf("expected deterministic fingerprint")
	}
	if len(sampleFingerprint(items)) != 40 {
		t.Fatalf("expected 40-char fingerprint")
	}
}

func TestSortByCountDesc(t *testing.T) {
	s := []Suggestion{{Phrase: "a", MatchCount: 1}, {Phrase: "b", MatchCount: 5}, {Phrase: "c", MatchCount: 3}}
	sortByCountDesc(s)
	if s[0].Phrase != "b" || s[1].Phrase != "c" || s[2].Phrase != "a" {
		t.Fatalf("got %v", s)
	}
}
