package provider

import (
	"strings"
)

var symbolToISO = map[string]string{
	"₪": "ILS", "us$": "USD", "$": "USD", "£": "GBP", "€": "EUR", "¥": "JPY",
	"₩": "KRW", "hk$": "HKD", "s$": "SGD", "a$": "AUD", "c$": "CAD", "nz$": "NZD",
	"₹": "INR", "r$": "BRL", "₽": "RUB", "₨": "PKR", "₦": "NGN", "₫": "VND", "₱": "PHP",
}

// multiCharSymbolOrder must be checked (via HasPrefix) before the single
// rune fallback, since "us$"/"hk$"/"s$"/"a$"/"c$"/"nz$" would otherwise
// be misread by their trailing "$".
var multiCharSymbolOrder = []string{"us$", "hk$", "nz$", "s$", "a$", "c$", "r$"}

var isoCodePassthrough = map[string]bool{
	"AED": true, "SAR": true, "QAR": true, "KWD": true, "BHD": true, "OMR": true, "JOD": true,
}

var glToCurrency = map[string]string{
	"jp": "JPY", "us": "USD", "uk": "GBP", "gb": "GBP",
	"de": "EUR", "fr": "EUR", "it": "EUR", "es": "EUR", "nl": "EUR", "be": "EUR",
	"at": "EUR", "ie": "EUR", "pt": "EUR", "gr": "EUR", "fi": "EUR",
	"dk": "DKK", "se": "SEK", "no": "NOK", "pl": "PLN", "cz": "CZK", "hu": "HUF",
	"ro": "RON", "bg": "BGN", "hr": "HRK",
	"hk": "HKD", "ae": "AED", "sg": "SGD", "kr": "KRW", "au": "AUD", "ca": "CAD", "nz": "NZD",
	"mx": "MXN", "br": "BRL", "in": "INR", "cn": "CNY", "il": "ILS",
	"sa": "SAR", "qa": "QAR", "kw": "KWD", "bh": "BHD", "om": "OMR", "jo": "JOD",
	"tr": "TRY", "ru": "RUB", "za": "ZAR", "eg": "EGP", "th": "THB", "my": "MYR",
	"id": "IDR", "ph": "PHP", "vn": "VND", "pk": "PKR", "bd": "BDT", "ng": "NGN",
}

// normalizeCurrencySymbol maps a currency token to an ISO-4217 code,
// passing through anything that already looks like a 3+ letter code.
func normalizeCurrencySymbol(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if iso, ok := symbolToISO[lower]; ok {
		return iso
	}
	if len(trimmed) >= 3 && isAllLetters(trimmed) {
		return strings.ToUpper(trimmed)
	}
	return ""
}

func isAllLetters(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

// currencyFromSymbol reads the leading symbol off a provider price
// string like "$1,499.00" or "HK$11,699".
func currencyFromSymbol(priceStr string) string {
	trimmed := strings.TrimSpace(priceStr)
	lower := strings.ToLower(trimmed)

	for _, sym := range multiCharSymbolOrder {
		if strings.HasPrefix(lower, sym) {
			return symbolToISO[sym]
		}
	}
	for code := range isoCodePassthrough {
		if strings.HasPrefix(strings.ToUpper(trimmed), code) {
			return code
		}
	}
	if trimmed == "" {
		return ""
	}
	first := string([]rune(trimmed)[0])
	if iso, ok := symbolToISO[strings.ToLower(first)]; ok {
		return iso
	}
	return ""
}

// currencyFromGL infers a currency from a provider "gl" (geolocation)
// country code.
func currencyFromGL(gl string) string {
	return glToCurrency[strings.ToLower(gl)]
}

// extractCurrency implements the five-step currency-resolution
// precedence: (1) item.currency, (2) leading symbol of the price
// string, (3) inferred from gl, (4) alternative_price.currency as a
// last resort only, (5) default to USD. Step 4 is deliberately last:
// alternative_price may describe a different numeric price than the one
// this row stores, so its currency must never be paired with the
// primary price unless nothing else resolved.
func extractCurrency(item rawShoppingItem, gl string) string {
	if iso := normalizeCurrencySymbol(item.Currency); iso != "" {
		return iso
	}
	if iso := currencyFromSymbol(item.Price); iso != "" {
		return iso
	}
	if iso := currencyFromGL(gl); iso != "" {
		return iso
	}
	if item.AlternativePrice != nil {
		if iso := normalizeCurrencySymbol(item.AlternativePrice.Currency); iso != "" {
			return iso
		}
	}
	return "USD"
}
