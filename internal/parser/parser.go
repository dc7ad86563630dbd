// Package parser implements the deterministic, multilingual regex
// extraction of (model, storage, color, condition) from a free-text
// product title.
package parser

import (
	"regexp"
	"strings"
)

// Confidence rates how much of the attribute set a title yielded.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Attributes is the subset of a GoldenSku's identity the parser can pull
// out of free text. Fields are empty string when not found.
type Attributes struct {
	Model     string
	Storage   string
	Color     string
	Condition string
}

// Result is the full parser outcome for one title.
type Result struct {
	Attributes      Attributes
	Confidence      Confidence
	RawTitle        string
	MatchedModel    string
	MatchedStorage  string
	MatchedColor    string
}

type modelRule struct {
	pattern *regexp.Regexp
	tag     string
}

// modelTable is ordered most-specific to least-specific. Ordering is
// semantically load-bearing: "pro max" must be tested before "pro", and
// generation-suffixed SE strings before the bare "se".
var modelTable = []modelRule{
	{regexp.MustCompile(`(?i)iphone\s*17\s*pro\s*max`), "iphone-17-pro-max"},
	{regexp.MustCompile(`(?i)iphone\s*17\s*pro`), "iphone-17-pro"},
	{regexp.MustCompile(`(?i)iphone\s*17\s*air`), "iphone-17-air"},
	{regexp.MustCompile(`(?i)iphone\s*17e\b`), "iphone-17e"},
	{regexp.MustCompile(`(?i)iphone\s*17\s*plus`), "iphone-17-plus"},
	{regexp.MustCompile(`(?i)iphone\s*17\b`), "iphone-17"},

	{regexp.MustCompile(`(?i)iphone\s*16\s*pro\s*max`), "iphone-16-pro-max"},
	{regexp.MustCompile(`(?i)iphone\s*16\s*pro`), "iphone-16-pro"},
	{regexp.MustCompile(`(?i)iphone\s*16e\b`), "iphone-16e"},
	{regexp.MustCompile(`(?i)iphone\s*16\s*plus`), "iphone-16-plus"},
	{regexp.MustCompile(`(?i)iphone\s*16\b`), "iphone-16"},

	{regexp.MustCompile(`(?i)iphone\s*15\s*pro\s*max`), "iphone-15-pro-max"},
	{regexp.MustCompile(`(?i)iphone\s*15\s*pro`), "iphone-15-pro"},
	{regexp.MustCompile(`(?i)iphone\s*15\s*plus`), "iphone-15-plus"},
	{regexp.MustCompile(`(?i)iphone\s*15\b`), "iphone-15"},

	{regexp.MustCompile(`(?i)iphone\s*14\s*pro\s*max`), "iphone-14-pro-max"},
	{regexp.MustCompile(`(?i)iphone\s*14\s*pro`), "iphone-14-pro"},
	{regexp.MustCompile(`(?i)iphone\s*14\s*plus`), "iphone-14-plus"},
	{regexp.MustCompile(`(?i)iphone\s*14\b`), "iphone-14"},

	{regexp.MustCompile(`(?i)iphone\s*13\s*pro\s*max`), "iphone-13-pro-max"},
	{regexp.MustCompile(`(?i)iphone\s*13\s*pro`), "iphone-13-pro"},
	{regexp.MustCompile(`(?i)iphone\s*13\s*mini`), "iphone-13-mini"},
	{regexp.MustCompile(`(?i)iphone\s*13\b`), "iphone-13"},

	// SE generations must be tested before the bare "se" fallback.
	{regexp.MustCompile(`(?i)iphone\s*se\s*\(?\s*3(rd)?\s*gen`), "iphone-se-3"},
	{regexp.MustCompile(`(?i)iphone\s*se\s*2022`), "iphone-se-3"},
	{regexp.MustCompile(`(?i)iphone\s*se\s*\(?\s*2(nd)?\s*gen`), "iphone-se-2"},
	{regexp.MustCompile(`(?i)iphone\s*se\s*2020`), "iphone-se-2"},
	{regexp.MustCompile(`(?i)iphone\s*se\s*3\b`), "iphone-se-3"},
	{regexp.MustCompile(`(?i)iphone\s*se\s*2\b`), "iphone-se-2"},
	{regexp.MustCompile(`(?i)iphone\s*se\b`), "iphone-se"},
}

var storagePattern = regexp.MustCompile(`(?i)(\d+)\s*(gb|tb)`)

var storageWhitelist = map[string]bool{
	"64gb": true, "128gb": true, "256gb": true, "512gb": true, "1tb": true, "2tb": true,
}

type colorRule struct {
	pattern *regexp.Regexp
	tag     string
}

// colorTable is ordered specific-to-generic; multi-word titanium finishes
// must be matched before any single-word fallback they contain.
var colorTable = []colorRule{
	{regexp.MustCompile(`(?i)natural\s*titanium`), "natural"},
	{regexp.MustCompile(`(?i)white\s*titanium`), "white"},
	{regexp.MustCompile(`(?i)black\s*titanium`), "black"},
	{regexp.MustCompile(`(?i)desert\s*titanium`), "desert"},
	{regexp.MustCompile(`(?i)blue\s*titanium`), "blue"},
	{regexp.MustCompile(`(?i)space\s*gr[ae]y`), "gray"},

	{regexp.MustCompile(`(?i)ultramarine`), "ultramarine"},
	{regexp.MustCompile(`(?i)teal`), "teal"},
	{regexp.MustCompile(`(?i)deep\s*blue|深藍|深蓝`), "deep-blue"},
	{regexp.MustCompile(`(?i)cosmic\s*orange`), "cosmic-orange"},
	{regexp.MustCompile(`(?i)mist\s*blue`), "mist-blue"},
	{regexp.MustCompile(`(?i)\bsage\b`), "sage"},
	{regexp.MustCompile(`(?i)lavender`), "lavender"},
	{regexp.MustCompile(`(?i)sky\s*blue`), "sky-blue"},
	{regexp.MustCompile(`(?i)cloud\s*white`), "cloud-white"},
	{regexp.MustCompile(`(?i)light\s*gold`), "light-gold"},
	{regexp.MustCompile(`(?i)space\s*black\b`), "space-black"},

	{regexp.MustCompile(`(?i)midnight`), "midnight"},
	{regexp.MustCompile(`(?i)starlight`), "starlight"},

	{regexp.MustCompile(`(?i)product\s*\(?red\)?|\(product\)red`), "red"},

	{regexp.MustCompile(`(?i)\bblack\b|noir|schwarz|黑色|검정|أسود`), "black"},
	{regexp.MustCompile(`(?i)\bwhite\b|blanc|weiß|weiss|白色|하양|أبيض`), "white"},
	{regexp.MustCompile(`(?i)\bblue\b|bleu|blau|蓝色|藍色|파랑|أزرق`), "blue"},
	{regexp.MustCompile(`(?i)\bgreen\b|vert|grün|gruen|绿色|綠色|초록|أخضر`), "green"},
	{regexp.MustCompile(`(?i)\bpink\b|rose|rosa|粉色|핑크|وردي`), "pink"},
	{regexp.MustCompile(`(?i)\byellow\b|jaune|gelb|黄色|노랑|أصفر`), "yellow"},
	{regexp.MustCompile(`(?i)\bpurple\b|violet|lila|紫色|보라|بنفسجي`), "purple"},
	{regexp.MustCompile(`(?i)\bgr[ae]y\b|gris|grau|灰色|회색|رمادي`), "gray"},
	{regexp.MustCompile(`(?i)\bgold\b|or\b|gold|金色|골드|ذهبي`), "gold"},
	{regexp.MustCompile(`(?i)\bsilver\b|argent|silber|银色|銀色|실버|فضي`), "silver"},
}

type conditionRule struct {
	pattern *regexp.Regexp
	tag     string
}

var conditionTable = []conditionRule{
	{regexp.MustCompile(`(?i)refurbished|renewed|reconditioned|certified\s*pre-?owned|\bcpo\b|整備済み|リファービッシュ|리퍼|翻新|مجدد`), "refurbished"},
	{regexp.MustCompile(`(?i)\bused\b|pre-?owned|second\s*hand|中古|중고|二手|مستعمل|gebraucht|occasion`), "used"},
	{regexp.MustCompile(`(?i)brand\s*new|\bnew\b|新品|새제품|全新|جديد|\bneu\b|neuf`), "new"},
}

var accessoryKeywords = []string{
	"case", "cover", "protector", "charger", "cable", "adapter", "earbuds", "airpods", "ipad",
	"screen protector", "tempered glass", "skin", "stand", "holder", "mount", "dock", "strap",
	"ケース", "カバー", "充電器", "ケーブル",
	"케이스", "커버", "충전기", "케이블",
	"手机壳", "保护壳", "充电器", "数据线",
	"hülle", "schutzhülle", "ladegerät", "kabel",
	"coque", "étui", "chargeur", "câble",
	"غطاء", "حافظة", "شاحن", "كابل",
}

var mentionsIPhonePattern = regexp.MustCompile(`(?i)iphone|アイフォン|アイフォーン|아이폰`)

// MentionsIPhone reports whether the title plausibly refers to an
// iPhone at all, in any of the supported languages/scripts.
func MentionsIPhone(title string) bool {
	return mentionsIPhonePattern.MatchString(title)
}

// IsNoise reports whether the title contains any accessory keyword
// (case-insensitive substring), marking it as not describing a phone itself.
func IsNoise(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range accessoryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Extract runs the full (model, storage, color, condition) extraction
// over a free-text title. It never panics or returns an error: a title
// that matches nothing simply yields LOW confidence and an empty model.
func Extract(title string) Result {
	res := Result{RawTitle: title}

	for _, rule := range modelTable {
		if rule.pattern.MatchString(title) {
			res.Attributes.Model = rule.tag
			res.MatchedModel = rule.pattern.FindString(title)
			break
		}
	}

	for _, m := range storagePattern.FindAllStringSubmatch(title, -1) {
		candidate := strings.ToLower(m[1] + m[2])
		if storageWhitelist[candidate] {
			res.Attributes.Storage = candidate
			res.MatchedStorage = m[0]
			break
		}
	}

	for _, rule := range colorTable {
		if rule.pattern.MatchString(title) {
			res.Attributes.Color = rule.tag
			res.MatchedColor = rule.pattern.FindString(title)
			break
		}
	}

	res.Attributes.Condition = "new"
	for _, rule := range conditionTable {
		if rule.pattern.MatchString(title) {
			res.Attributes.Condition = rule.tag
			break
		}
	}

	switch {
	case res.Attributes.Model == "":
		res.Confidence = ConfidenceLow
	case res.Attributes.Storage != "" && res.Attributes.Color != "":
		res.Confidence = ConfidenceHigh
	default:
		res.Confidence = ConfidenceMedium
	}

	return res
}

// DetectMultiVariant reports whether a title lists two or more distinct
// whitelisted storage sizes, or contains a fixed enumeration phrase such
// as "all colors" or "256gb/512gb"; individually listed colors are not
// counted. A multi-variant title is disqualified from deterministic or
// LLM-assisted promotion (the listing does not identify a single SKU).
func DetectMultiVariant(title string) bool {
	lower := strings.ToLower(title)

	distinct := map[string]bool{}
	for _, m := range storagePattern.FindAllStringSubmatch(lower, -1) {
		candidate := m[1] + m[2]
		if storageWhitelist[candidate] {
			distinct[candidate] = true
		}
	}
	if len(distinct) >= 2 {
		return true
	}

	enumerations := []string{"256gb/512gb", "512gb/1tb", "all colors", "all colour", "all color"}
	for _, e := range enumerations {
		if strings.Contains(lower, e) {
			return true
		}
	}
	return false
}

// NormalizeCondition maps a provider-supplied second_hand_condition
// string onto the canonical {new, used, refurbished} set. An unknown
// non-empty value currently defaults to "new" per the documented,
// deliberately-unchanged policy.
func NormalizeCondition(secondHandCondition string) string {
	lower := strings.ToLower(strings.TrimSpace(secondHandCondition))
	switch lower {
	case "refurbished", "refurb", "renewed", "certified pre-owned", "cpo":
		return "refurbished"
	case "used", "pre-owned", "second hand", "secondhand", "pre owned":
		return "used"
	default:
		return "new"
	}
}
