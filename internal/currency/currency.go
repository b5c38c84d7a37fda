package currency

import (
	"fmt"
	"strings"
)

const (
	DefaultCrypto = "BTC"
	DefaultFiat   = "USD"
)

type entry struct {
	Code    string
	Aliases []string
}

// cryptos lists the supported base assets; the first alias is the long name.
var cryptos = []entry{
	{Code: "BTC", Aliases: []string{"Bitcoin"}},
	{Code: "BCH", Aliases: []string{"Bitcoin Cash", "BCash"}},
	{Code: "ETH", Aliases: []string{"Ethereum"}},
	{Code: "ETC", Aliases: []string{"Ethereum Classic"}},
	{Code: "LTC", Aliases: []string{"Litecoin"}},
}

// fiats lists the supported quote currencies; the first alias is the symbol.
var fiats = []entry{
	{Code: "EUR", Aliases: []string{"€", "Euro", "Euros"}},
	{Code: "GBP", Aliases: []string{"£", "Pound", "Pounds", "Sterling", "Great British Pounds", "Great Pounds British", "GPB"}},
	{Code: "USD", Aliases: []string{"$", "Dollar", "Dollars", "Freedom Money", "Buck", "Bucks"}},
}

// Pair is a crypto/fiat trading pair such as BTC-USD.
type Pair struct {
	Crypto string
	Fiat   string
}

// Default returns BTC-USD.
func Default() Pair {
	return Pair{Crypto: DefaultCrypto, Fiat: DefaultFiat}
}

// ParseProduct splits an exchange product id. Unknown codes are kept as-is.
func ParseProduct(product string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(product)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid product %q, expected BASE-QUOTE", product)
	}
	return Pair{Crypto: parts[0], Fiat: parts[1]}, nil
}

// Product returns the exchange product id.
func (p Pair) Product() string {
	return p.Crypto + "-" + p.Fiat
}

// CryptoName returns the long name of the base asset, or its code.
func (p Pair) CryptoName() string {
	for _, e := range cryptos {
		if e.Code == p.Crypto {
			return e.Aliases[0]
		}
	}
	return p.Crypto
}

// FiatSymbol returns the symbol of the quote currency, or its code plus a space.
func (p Pair) FiatSymbol() string {
	for _, e := range fiats {
		if e.Code == p.Fiat {
			return e.Aliases[0]
		}
	}
	return p.Fiat + " "
}

// MatchCrypto resolves a code or alias, case-insensitively.
func MatchCrypto(word string) (string, bool) {
	return match(cryptos, word)
}

// MatchFiat resolves a code, symbol or alias, case-insensitively.
func MatchFiat(word string) (string, bool) {
	return match(fiats, word)
}

func match(entries []entry, word string) (string, bool) {
	for _, e := range entries {
		if strings.EqualFold(word, e.Code) {
			return e.Code, true
		}
		for _, alias := range e.Aliases {
			if strings.EqualFold(word, alias) {
				return e.Code, true
			}
		}
	}
	return "", false
}
