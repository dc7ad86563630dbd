package llmmatch

import "testing"

func TestValidate_ChoosesKnownCandidate(t *testing.T) {
	raw := []byte(`{"is_accessory":false,"is_bundle":false,"is_contract":false,"match":{"sku_key":"iphone-16-pro-256gb-black-new","match_confidence":0.92,"reason":"exact title match"}}`)
	d := validate(raw, []string{"iphone-16-pro-256gb-black-new", "iphone-16-pro-256gb-white-new"})
	if !d.Chosen || d.SkuKey != "iphone-16-pro-256gb-black-new" {
		t.Fatalf("expected chosen match, got %+v", d)
	}
	if d.Confidence != 0.92 {
		t.Fatalf("confidence = %v, want 0.92", d.Confidence)
	}
}

func TestValidate_RejectsUnknownCandidate(t *testing.T) {
	raw := []byte(`{"match":{"sku_key":"not-a-real-sku","match_confidence":0.5}}`)
	d := validate(raw, []string{"iphone-16-pro-256gb-black-new"})
	if d.Chosen || d.SkuKey != "" {
		t.Fatalf("expected no match, got %+v", d)
	}
}

func TestValidate_MalformedJSONIsUnchosenNotError(t *testing.T) {
	d := validate([]byte(`not json`), []string{"x"})
	if d.Chosen {
		t.Fatalf("expected Chosen=false on malformed payload")
	}
}

func TestValidate_ClampsConfidence(t *testing.T) {
	raw := []byte(`{"match":{"sku_key":"x","match_confidence":5}}`)
	d := validate(raw, []string{"x"})
	if d.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped 1", d.Confidence)
	}
}

func TestFirstJSONObject(t *testing.T) {
	text := "here is the answer: {\"a\": {\"b\": 1}} trailing text"
	block, ok := firstJSONObject(text)
	if !ok || block != `{"a": {"b": 1}}` {
		t.Fatalf("got %q, %v", block, ok)
	}
}

func TestFirstJSONObject_NoObject(t *testing.T) {
	if _, ok := firstJSONObject("no braces here"); ok {
		t.Fatalf("expected no match")
	}
}

func TestMatchCacheFragment_DeterministicAndLength(t *testing.T) {
	a := matchCacheFragment("title", "new", "apple", []string{"x", "y"})
	b := matchCacheFragment("title", "new", "apple", []string{"x", "y"})
	if a != b {
		t.Fatalf("expected deterministic fragment")
	}
	if len(a) != 40 {
		t.Fatalf("fragment length = %d, want 40", len(a))
	}
}
