package domain

import "strings"

// SplitTicker splits "BTC/USDT" into its token and quote. A ticker without
// a separator is a bare token with an empty quote.
func SplitTicker(ticker string) (token, quote string) {
	parts := strings.SplitN(ticker, "/", 2)
	token = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		quote = strings.TrimSpace(parts[1])
	}
	return token, quote
}

// TickerAliases maps canonical tokens to the names a venue lists them under
// (BTC -> UBTC) and back.
type TickerAliases struct {
	toAlias  map[string]string
	toTicker map[string]string
}

func NewTickerAliases(aliases map[string]string) *TickerAliases {
	a := &TickerAliases{
		toAlias:  make(map[string]string, len(aliases)),
		toTicker: make(map[string]string, len(aliases)),
	}
	for ticker, alias := range aliases {
		a.toAlias[ticker] = alias
		a.toTicker[alias] = ticker
	}
	return a
}

func (a *TickerAliases) TryGetAlias(ticker string) (string, bool) {
	if a == nil {
		return "", false
	}
	alias, ok := a.toAlias[ticker]
	return alias, ok
}

func (a *TickerAliases) TryGetTicker(alias string) (string, bool) {
	if a == nil {
		return "", false
	}
	ticker, ok := a.toTicker[alias]
	return ticker, ok
}

// Canonical returns the canonical token for a venue name, or the name itself.
func (a *TickerAliases) Canonical(name string) string {
	if t, ok := a.TryGetTicker(name); ok {
		return t
	}
	return name
}

// VenueName returns the venue name for a canonical token, or the token itself.
func (a *TickerAliases) VenueName(ticker string) string {
	if alias, ok := a.TryGetAlias(ticker); ok {
		return alias
	}
	return ticker
}
