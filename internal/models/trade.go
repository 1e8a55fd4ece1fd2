// Package models provides data structures and validation for exchange trade data.
// This package contains the core domain models shared by the exchange client,
// the sync orchestration and the storage backends.
package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TimestampScale is the number of trade timestamp ticks per second.
// Trade timestamps carry four fractional digits of a second, which is the
// precision the exchange reports in practice.
const TimestampScale = 10_000

// nanosPerTick converts a trade timestamp tick to Unix nanoseconds.
const nanosPerTick = 1_000_000_000 / TimestampScale

// TradeSymbol identifies a market as a base/quote currency pair (e.g. ETH/EUR).
type TradeSymbol struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewTradeSymbol creates a symbol from its base and quote currency codes.
func NewTradeSymbol(base, quote string) TradeSymbol {
	return TradeSymbol{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParseSymbol parses a pair string in one of the forms "ETH/EUR", "ETH-EUR" or "ETHEUR".
// The separator-less form must be six characters long and is split 3/3.
func ParseSymbol(s string) (TradeSymbol, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return TradeSymbol{}, &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}

	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			if base == "" || quote == "" {
				return TradeSymbol{}, &ValidationError{Field: "symbol", Message: fmt.Sprintf("invalid symbol %q", s)}
			}
			return NewTradeSymbol(base, quote), nil
		}
	}

	if len(s) != 6 {
		return TradeSymbol{}, &ValidationError{
			Field:   "symbol",
			Message: fmt.Sprintf("cannot split %q into base and quote, use BASE/QUOTE", s),
		}
	}
	return NewTradeSymbol(s[:3], s[3:]), nil
}

// String returns the pair as the exchange expects it in requests, e.g. "ETHEUR".
func (s TradeSymbol) String() string {
	return s.Base + s.Quote
}

// IsZero reports whether the symbol is unset.
func (s TradeSymbol) IsZero() bool {
	return s.Base == "" && s.Quote == ""
}

// Trade is a single executed trade on a market.
//
// Timestamp is expressed in TimestampScale ticks since the Unix epoch, not in
// nanoseconds. Use UnixNano to convert it to a pagination cursor.
type Trade struct {
	Symbol    TradeSymbol     `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// ValidationError represents a trade validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message explains the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that the trade carries a symbol and a positive timestamp.
// Price and volume are kept exactly as the exchange reported them.
func (t *Trade) Validate() error {
	if t.Symbol.Base == "" || t.Symbol.Quote == "" {
		return &ValidationError{Field: "symbol", Message: "symbol must have base and quote"}
	}
	if t.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must be greater than 0"}
	}
	return nil
}

// Pair returns the request pair string for the trade's symbol.
func (t *Trade) Pair() string {
	return t.Symbol.String()
}

// UnixNano converts the trade timestamp to Unix nanoseconds, the unit of the
// exchange's pagination cursor.
func (t *Trade) UnixNano() int64 {
	return t.Timestamp * nanosPerTick
}

// PriceFloat returns the price as float64 for storage backends with DOUBLE columns.
func (t *Trade) PriceFloat() float64 {
	f, _ := t.Price.Float64()
	return f
}

// VolumeFloat returns the volume as float64 for storage backends with DOUBLE columns.
func (t *Trade) VolumeFloat() float64 {
	f, _ := t.Volume.Float64()
	return f
}

// String returns a human-readable representation of the trade.
func (t Trade) String() string {
	return fmt.Sprintf("Trade{Pair: %s, Price: %s, Volume: %s, Timestamp: %d}",
		t.Symbol, t.Price, t.Volume, t.Timestamp)
}

// TicksFromUnixNano converts a Unix nanosecond cursor to trade timestamp ticks,
// truncating any sub-tick remainder.
func TicksFromUnixNano(ns int64) int64 {
	return ns / nanosPerTick
}
