// Package patterns implements the literal-phrase detectors for
// contract/plan listings and condition hints: a small set of compiled-in
// defaults merged at request time with admin-curated phrases loaded from
// storage.
package patterns

import (
	"net/url"
	"regexp"
	"strings"
)

// Kind identifies which phrase bucket a PatternPhrase/PatternSuggestion
// row belongs to.
type Kind string

const (
	KindContract             Kind = "contract"
	KindConditionNew         Kind = "condition_new"
	KindConditionUsed        Kind = "condition_used"
	KindConditionRefurbished Kind = "condition_refurbished"
)

// DefaultContractPhrases are the compiled-in, multilingual contract/plan
// phrase detectors merged with any admin-curated additions.
var DefaultContractPhrases = []string{
	"with data plan", "with contract", "monthly payments", "installment payments", "mobile phone plan",
	"vertrag", "ratenzahlung", "monatlich",
	"forfait", "abonnement", "mensualit",
	"契約", "分割", "月額", "プラン",
	"약정", "할부", "요금제", "플랜",
	"合約", "合约", "月費", "月费", "分期", "套餐",
	"عقد", "خطة", "أقساط", "اقساط", "دفعات شهرية",
}

var DefaultConditionUsedPhrases = []string{
	"used", "pre-owned", "pre owned", "中古", "중고", "二手", "مستعمل", "gebraucht", "occasion",
}

var DefaultConditionRefurbishedPhrases = []string{
	"refurbished", "renewed", "reconditioned", "整備済み", "リファービッシュ", "리퍼", "翻新", "مجدد",
}

var DefaultConditionNewPhrases = []string{
	"brand new", "new", "新品", "새제품", "全新", "جديد", "neu", "neuf",
}

// Bundle is the merged set of phrases for each kind, ready for matching.
type Bundle struct {
	Contract             []string
	ConditionNew         []string
	ConditionUsed        []string
	ConditionRefurbished []string
}

// AdminPhrase is a single enabled PatternPhrase row from storage.
type AdminPhrase struct {
	Kind   Kind
	Phrase string
}

// LoadBundle merges the compiled-in defaults with enabled admin phrases,
// preserving insertion order (defaults first) and deduping by normalized
// phrase within each kind.
func LoadBundle(admin []AdminPhrase) Bundle {
	byKind := map[Kind][]string{
		KindContract:             DefaultContractPhrases,
		KindConditionNew:         DefaultConditionNewPhrases,
		KindConditionUsed:        DefaultConditionUsedPhrases,
		KindConditionRefurbished: DefaultConditionRefurbishedPhrases,
	}
	extra := map[Kind][]string{}
	for _, p := range admin {
		extra[p.Kind] = append(extra[p.Kind], normalizePhrase(p.Phrase))
	}

	merge := func(k Kind) []string {
		return mergeDedup(byKind[k], extra[k])
	}

	return Bundle{
		Contract:             merge(KindContract),
		ConditionNew:         merge(KindConditionNew),
		ConditionUsed:        merge(KindConditionUsed),
		ConditionRefurbished: merge(KindConditionRefurbished),
	}
}

func mergeDedup(defaults, extras []string) []string {
	seen := make(map[string]bool, len(defaults)+len(extras))
	out := make([]string, 0, len(defaults)+len(extras))
	for _, p := range append(append([]string{}, defaults...), extras...) {
		norm := normalizePhrase(p)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizePhrase(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	return whitespaceRun.ReplaceAllString(p, " ")
}

// LinkHint reduces a product URL to host+path+query, lowercased, for use
// as the second half of the detection haystack.
func LinkHint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	hint := u.Hostname() + u.Path
	if u.RawQuery != "" {
		hint += "?" + u.RawQuery
	}
	return strings.ToLower(hint)
}

// Haystack builds the combined title+link-hint text that phrase matching
// scans against.
func Haystack(title, productLink string) string {
	return strings.ToLower(title) + "\n" + LinkHint(productLink)
}

// DetectIsContract reports whether the haystack contains any phrase from
// the bundle's contract list, as a literal (never regex) substring match.
func DetectIsContract(title, productLink string, b Bundle) bool {
	haystack := Haystack(title, productLink)
	return anyMatch(haystack, b.Contract)
}

// ConditionHint is the outcome of DetectConditionHint.
type ConditionHint struct {
	Condition string // "new", "used", "refurbished", or "" for none
	Matched   []string
}

// DetectConditionHint scans the haystack against refurbished, then used,
// then new phrases, in that priority order, stopping at the first kind
// with any match (conservative: avoid promoting unclear secondhand
// listings as new).
func DetectConditionHint(title, productLink string, b Bundle) ConditionHint {
	haystack := Haystack(title, productLink)

	if m := matches(haystack, b.ConditionRefurbished); len(m) > 0 {
		return ConditionHint{Condition: "refurbished", Matched: capAt(m, 5)}
	}
	if m := matches(haystack, b.ConditionUsed); len(m) > 0 {
		return ConditionHint{Condition: "used", Matched: capAt(m, 5)}
	}
	if m := matches(haystack, b.ConditionNew); len(m) > 0 {
		return ConditionHint{Condition: "new", Matched: capAt(m, 5)}
	}
	return ConditionHint{}
}

func anyMatch(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

func matches(haystack string, phrases []string) []string {
	var out []string
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			out = append(out, p)
		}
	}
	return out
}

func capAt(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
