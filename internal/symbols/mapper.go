package symbols

import (
	"regexp"
	"strings"
)

// quoteSuffixes are stripped from venue pair names, longest first.
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD"}

// multiplierPrefixes mark contracts quoted per 1000000, 10000 or 1000 units,
// longest first.
var multiplierPrefixes = []string{"1000000", "10000", "1000"}

// ToBase converts a venue-specific instrument name into its base asset.
// It uppercases, removes OKX style separators and contract suffixes, strips
// the quote currency and undoes the 1000x multiplier contracts some venues
// list for low priced coins.
func ToBase(exchange, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	switch strings.ToLower(exchange) {
	case "okx":
		if i := strings.IndexByte(sym, '-'); i >= 0 {
			return sym[:i]
		}
	case "bybit":
		switch sym {
		case "SHIB1000USDT":
			return "SHIB"
		}
	}
	for _, q := range quoteSuffixes {
		if len(sym) > len(q) && strings.HasSuffix(sym, q) {
			sym = strings.TrimSuffix(sym, q)
			break
		}
	}
	return stripMultiplier(sym)
}

// stripMultiplier removes a multiplier prefix only when a letter follows it,
// so 1000000MOG becomes MOG and a numeric name is left alone.
func stripMultiplier(sym string) string {
	for _, p := range multiplierPrefixes {
		rest, ok := strings.CutPrefix(sym, p)
		if !ok || rest == "" {
			continue
		}
		if c := rest[0]; c >= 'A' && c <= 'Z' {
			return rest
		}
	}
	return sym
}

// USDTPair returns BASEUSDT.
func USDTPair(base string) string {
	return strings.ToUpper(base) + "USDT"
}

// BinanceStream returns the lowercase stream prefix used in Binance URLs.
func BinanceStream(base string) string {
	return strings.ToLower(base) + "usdt"
}

// OKXInstrument returns the OKX instrument id for spot or perpetual swap.
func OKXInstrument(base string, swap bool) string {
	inst := strings.ToUpper(base) + "-USDT"
	if swap {
		inst += "-SWAP"
	}
	return inst
}

var baseAssetRe = regexp.MustCompile(`^[A-Z0-9]{1,20}$`)

// Valid reports whether s is an uppercase base asset the stream URLs accept.
func Valid(s string) bool {
	return baseAssetRe.MatchString(s)
}
