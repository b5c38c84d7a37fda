package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"ema-price-alerts/internal/currency"
)

// ParseError is returned for malformed command text. Its message is shown to
// the requesting user.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string {
	return e.msg
}

func parseErrorf(format string, args ...any) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// Request is a parsed price report request.
type Request struct {
	Pair currency.Pair
	Days []int
}

// IsHelp reports whether text asks for usage.
func IsHelp(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "h" || t == "help"
}

// HelpText describes the command arguments.
func HelpText() string {
	cryptos := []string{"BCH", "BTC", "ETC", "ETH", "LTC"}
	fiats := []string{"EUR", "GBP", "USD"}
	return "The first 2 arguments can be optionally used to specify the cryptocurrency and fiat pair (1 or both can be omitted)\n" +
		"The remaining arguments are the number of days back you want to retrieve prices for " +
		"(eg. /prices \"bitcoin cash\" 7 14 will retrieve the price 1 and 2 weeks ago for bitcoin cash). " +
		"By default the price 7 and 28 days ago are fetched" +
		"\n\nSupported cryptocurrencies: " + strings.Join(cryptos, ", ") +
		"\nSupported fiat currencies: " + strings.Join(fiats, ", ")
}

// ParseArgs splits text shell-style into up to two currency words followed by
// day counts. Days below 2 are dropped; the rest are sorted and deduplicated.
func ParseArgs(text string, defaultDays []int) (Request, error) {
	words, err := shlex.Split(text)
	if err != nil {
		return Request{}, parseErrorf("Could not split arguments: %v", err)
	}

	numWords := 0
	for _, w := range words {
		if isDigits(w) {
			break
		}
		numWords++
	}
	if numWords > 2 {
		return Request{}, parseErrorf("Received too many non digit entries")
	}
	for _, w := range words[numWords:] {
		if !isDigits(w) {
			return Request{}, parseErrorf("Received non digit entry after digit entry")
		}
	}

	var pair currency.Pair
	switch numWords {
	case 0:
		pair = currency.Default()
	case 1:
		pair, err = parseOne(words[0])
	case 2:
		pair, err = parseTwo(words[0], words[1])
	}
	if err != nil {
		return Request{}, err
	}

	seen := make(map[int]struct{})
	days := make([]int, 0, len(words)-numWords)
	for _, w := range words[numWords:] {
		d, err := strconv.Atoi(w)
		if err != nil {
			return Request{}, parseErrorf("Day count %s is too large", w)
		}
		if d < 2 {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	if len(days) == 0 {
		days = append(days, defaultDays...)
	}
	sort.Ints(days)

	return Request{Pair: pair, Days: days}, nil
}

func parseOne(word string) (currency.Pair, error) {
	if crypto, ok := currency.MatchCrypto(word); ok {
		return currency.Pair{Crypto: crypto, Fiat: currency.DefaultFiat}, nil
	}
	if fiat, ok := currency.MatchFiat(word); ok {
		return currency.Pair{Crypto: currency.DefaultCrypto, Fiat: fiat}, nil
	}
	return currency.Pair{}, parseErrorf("Could not parse first argument to cryptocurrency or fiat currency")
}

func parseTwo(first, second string) (currency.Pair, error) {
	if crypto, ok := currency.MatchCrypto(first); ok {
		fiat, ok := currency.MatchFiat(second)
		if !ok {
			return currency.Pair{}, parseErrorf("First argument was a cryptocurrency, but second argument was not a fiat currency")
		}
		return currency.Pair{Crypto: crypto, Fiat: fiat}, nil
	}
	if fiat, ok := currency.MatchFiat(first); ok {
		crypto, ok := currency.MatchCrypto(second)
		if !ok {
			return currency.Pair{}, parseErrorf("First argument was a fiat currency, but second argument was not a cryptocurrency")
		}
		return currency.Pair{Crypto: crypto, Fiat: fiat}, nil
	}
	return currency.Pair{}, parseErrorf("Could not parse first argument to cryptocurrency or fiat currency")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
