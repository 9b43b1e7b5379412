package broker

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Contract describes one tradeable instrument as supplied by the caller.
// The zero value is not usable; at minimum Symbol and SecType must be set.
type Contract struct {
	ConID         int64   `json:"conId,omitempty"`
	Symbol        string  `json:"symbol"`
	SecType       string  `json:"secType"`
	Exchange      string  `json:"exchange,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	LastTradeDate string  `json:"lastTradeDate,omitempty"`
	Strike        float64 `json:"strike,omitempty"`
	Right         string  `json:"right,omitempty"`
	Multiplier    string  `json:"multiplier,omitempty"`
	LocalSymbol   string  `json:"localSymbol,omitempty"`
	TradingClass  string  `json:"tradingClass,omitempty"`
	PrimaryExch   string  `json:"primaryExchange,omitempty"`
}

// Key returns a structural hash of the contract. Two descriptors for the same
// instrument hash equal even when they are distinct values, so tickers keyed by
// Key survive the caller re-creating the descriptor.
func (c Contract) Key() uint64 {
	h := fnv.New64a()
	if c.ConID != 0 {
		fmt.Fprintf(h, "conid:%d|%s", c.ConID, c.Exchange)
		return h.Sum64()
	}
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%g|%s|%s|%s",
		strings.ToUpper(c.Symbol), c.SecType, c.Exchange, c.Currency,
		c.LastTradeDate, c.Strike, c.Right, c.Multiplier, c.TradingClass)
	return h.Sum64()
}

func (c Contract) String() string {
	if c.LocalSymbol != "" {
		return fmt.Sprintf("%s(%s)", c.SecType, c.LocalSymbol)
	}
	return fmt.Sprintf("%s(%s %s %s)", c.SecType, c.Symbol, c.Exchange, c.Currency)
}

// Stock is a convenience constructor for an equity contract.
func Stock(symbol, exchange, currency string) Contract {
	return Contract{Symbol: symbol, SecType: "STK", Exchange: exchange, Currency: currency}
}

// Forex is a convenience constructor for a currency pair, e.g. Forex("EURUSD").
func Forex(pair string) Contract {
	if len(pair) != 6 {
		return Contract{SecType: "CASH", Symbol: pair}
	}
	return Contract{Symbol: pair[:3], SecType: "CASH", Exchange: "IDEALPRO", Currency: pair[3:]}
}
