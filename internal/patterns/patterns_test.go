package patterns

import "testing"

func defaultBundle() Bundle {
	return LoadBundle(nil)
}

func TestDetectIsContract_German(t *testing.T) {
	b := defaultBundle()
	got := DetectIsContract("Apple iPhone 16 Pro mit Vertrag — monatlich 29,99€", "https://shop.example.de/p", b)
	if !got {
		t.Fatalf("expected German contract phrase to be detected")
	}
}

func TestDetectIsContract_NoMatch(t *testing.T) {
	b := defaultBundle()
	got := DetectIsContract("Apple iPhone 16 Pro Max 256GB Desert Titanium", "https://shop.example.com/p", b)
	if got {
		t.Fatalf("did not expect a contract phrase match")
	}
}

func TestDetectConditionHint_RefurbishedBeatsUsed(t *testing.T) {
	b := defaultBundle()
	hint := DetectConditionHint("Refurbished Used iPhone 15", "https://x", b)
	if hint.Condition != "refurbished" {
		t.Fatalf("expected refurbished to take priority, got %q", hint.Condition)
	}
}

func TestDetectConditionHint_UsedBeatsNew(t *testing.T) {
	b := defaultBundle()
	hint := DetectConditionHint("brand new but actually pre-owned iPhone", "https://x", b)
	if hint.Condition != "used" {
		t.Fatalf("expected used to take priority over new, got %q", hint.Condition)
	}
}

func TestDetectConditionHint_None(t *testing.T) {
	b := defaultBundle()
	hint := DetectConditionHint("iPhone 16 Pro Max 256GB", "https://x", b)
	if hint.Condition != "" {
		t.Fatalf("expected no condition hint, got %q", hint.Condition)
	}
}

func TestLoadBundle_DedupesAdminPhrase(t *testing.T) {
	b := LoadBundle([]AdminPhrase{{Kind: KindContract, Phrase: "With Data Plan"}})
	count := 0
	for _, p := range b.Contract {
		if p == "with data plan" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected admin phrase duplicating a default to be deduped, got %d occurrences", count)
	}
}
