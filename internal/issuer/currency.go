package issuer

import (
	"context"
	"fmt"
	"strings"
)

// CurrencyResolver maps a price currency symbol to the address of the token
// the ledger settles it in.  ok is false for an unknown symbol.
type CurrencyResolver interface {
	Resolve(ctx context.Context, symbol string) (address string, ok bool, err error)
}

// StaticCurrencies is a fixed symbol to address table.
type StaticCurrencies map[string]string

// Resolve implements CurrencyResolver.
func (c StaticCurrencies) Resolve(_ context.Context, symbol string) (string, bool, error) {
	addr, ok := c[symbol]
	return addr, ok, nil
}

// ParseCurrencies parses "SYMBOL=0xaddress,SYMBOL=0xaddress".  Blank entries
// are ignored.
func ParseCurrencies(s string) (StaticCurrencies, error) {
	out := StaticCurrencies{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, addr, ok := strings.Cut(entry, "=")
		symbol, addr = strings.TrimSpace(symbol), strings.TrimSpace(addr)
		if !ok || symbol == "" || addr == "" {
			return nil, fmt.Errorf("invalid currency entry %q", entry)
		}
		if _, err := hexWord(addr, 20); err != nil {
			return nil, fmt.Errorf("currency %s: %w", symbol, err)
		}
		out[symbol] = addr
	}
	return out, nil
}
