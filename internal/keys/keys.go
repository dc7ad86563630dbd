// Package keys implements the deterministic normalization and key
// composition functions shared by every component that needs a stable
// identity: sku keys, offer dedup keys, and request/link fingerprints.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	whitespaceOrUnderscore = regexp.MustCompile(`[\s_]+`)
	nonAlnumDash           = regexp.MustCompile(`[^a-z0-9-]`)
	repeatedDash           = regexp.MustCompile(`-+`)
)

// Normalize lowercases s, collapses whitespace/underscores into single
// dashes, drops anything outside [a-z0-9-], collapses repeated dashes,
// and trims leading/trailing dashes. It is deterministic and locale
// independent: the same input byte-for-byte always produces the same
// output.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceOrUnderscore.ReplaceAllString(s, "-")
	s = nonAlnumDash.ReplaceAllString(s, "")
	s = repeatedDash.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

var storagePattern = regexp.MustCompile(`(\d+)\s*(gb|tb)`)

// NormalizeStorage extracts and normalizes a storage token, e.g.
// "256 GB" -> "256gb". Falls back to Normalize when no digit+unit token
// is found.
func NormalizeStorage(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if m := storagePattern.FindStringSubmatch(lower); m != nil {
		return m[1] + m[2]
	}
	return Normalize(s)
}

var colorAliases = map[string]string{
	"space black":       "black",
	"space gray":        "gray",
	"space grey":        "gray",
	"natural titanium":  "natural",
	"white titanium":    "white",
	"black titanium":    "black",
	"desert titanium":   "desert",
	"blue titanium":     "blue",
}

// NormalizeColor maps known multi-word color aliases (mostly titanium
// finish names) onto their canonical short form before falling back to
// the generic Normalize for anything unmapped.
func NormalizeColor(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if canon, ok := colorAliases[lower]; ok {
		return canon
	}
	return Normalize(s)
}

// SkuAttributes is the minimal attribute set needed to compose a sku_key.
type SkuAttributes struct {
	Model         string
	Storage       string
	Color         string
	Condition     string
	SimVariant    string
	LockState     string
	RegionVariant string
}

// ComposeSkuKey builds the canonical sku_key for a set of attributes:
// normalize(model)-normalize(storage)-normalize(color)-normalize(condition)
// followed by any present optional parts, in that order. Empty parts are
// dropped entirely rather than leaving a gap.
func ComposeSkuKey(attrs SkuAttributes) string {
	parts := []string{
		Normalize(attrs.Model),
		NormalizeStorage(attrs.Storage),
		NormalizeColor(attrs.Color),
		Normalize(attrs.Condition),
	}
	for _, extra := range []string{attrs.SimVariant, attrs.LockState, attrs.RegionVariant} {
		if extra != "" {
			parts = append(parts, Normalize(extra))
		}
	}
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "-")
}

// ComposeDedupKey builds an Offer's dedup_key:
// normalize(merchant):price(2dp):CURRENCY[:first-8(sha256(url))].
func ComposeDedupKey(merchant string, price float64, currency string, url string) string {
	key := fmt.Sprintf("%s:%.2f:%s", Normalize(merchant), price, strings.ToUpper(currency))
	if url != "" {
		key += ":" + LinkHash(url)[:8]
	}
	return key
}

// RequestKey fingerprints the parameters of a provider search query.
func RequestKey(query, gl, hl, location string) string {
	return hashHex(query+"|"+gl+"|"+hl+"|"+location, 64)
}

// LinkHash fingerprints a product URL for use as a fallback identity
// when the provider doesn't return a stable product id.
func LinkHash(url string) string {
	return hashHex(url, 32)
}

// HashHex returns the first n hex characters of sha256(s), for callers
// composing their own cache-key fragments at a length LinkHash/RequestKey
// don't already provide.
func HashHex(s string, n int) string {
	return hashHex(s, n)
}

func hashHex(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	h := hex.EncodeToString(sum[:])
	if n >= len(h) {
		return h
	}
	return h[:n]
}

// CandidatesFingerprint hashes an ordered candidate sku_key list so the
// LLM matcher and cache key composition can detect when the candidate
// set backing a cached decision has changed. Returns empty string for
// an empty candidate list.
func CandidatesFingerprint(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	joined := strings.Join(candidates, "\x00")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:40]
}
