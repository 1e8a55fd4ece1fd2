package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

// Envelope is the exchange's uniform response wrapper. A non-empty Error list
// means the request failed and Result must be ignored.
type Envelope[T any] struct {
	Error  []string `json:"error"`
	Result *T       `json:"result,omitempty"`
}

// decodeEnvelope parses raw into an envelope and returns its result.
//
// The error list is inspected before the result is decoded, so an exchange
// error is reported as such even when the result has an unexpected shape.
func decodeEnvelope[T any](op string, raw []byte) (T, error) {
	var zero T

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, apperrors.Decode(op, fmt.Errorf("invalid envelope: %w", err))
	}

	if len(env.Error) > 0 {
		return zero, apperrors.Exchange(op, env.Error)
	}

	if env.Result == nil || len(bytes.TrimSpace(*env.Result)) == 0 {
		return zero, apperrors.Decodef(op, "malformed envelope: empty error list and no result")
	}

	var result T
	if err := json.Unmarshal(*env.Result, &result); err != nil {
		return zero, apperrors.Decode(op, fmt.Errorf("invalid result: %w", err))
	}
	return result, nil
}

// RawTrade wire contract.
//
// Version 1 is a six element array:
//
//	[price string, volume string, time number, side string, order type string, misc string]
//
// Version 2 appends an integer trade id as a seventh element. Fields are
// assigned strictly by position; the indexes below are the contract.
const (
	rawTradePrice = iota
	rawTradeVolume
	rawTradeTime
	rawTradeSide
	rawTradeOrderType
	rawTradeMisc
	rawTradeID

	rawTradeArityV1 = rawTradeMisc + 1
	rawTradeArityV2 = rawTradeID + 1
)

// RawTrade is one trade as the exchange encodes it.
type RawTrade struct {
	Price     string
	Volume    string
	Time      json.Number // seconds since the epoch with fractional part
	Side      string      // "b" or "s"
	OrderType string      // "m" or "l"
	Misc      string
	TradeID   int64 // zero for version 1 payloads
}

// UnmarshalJSON decodes the fixed-arity positional encoding.
func (r *RawTrade) UnmarshalJSON(data []byte) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("raw trade is not an array: %w", err)
	}
	if len(elems) != rawTradeArityV1 && len(elems) != rawTradeArityV2 {
		return fmt.Errorf("raw trade has %d elements, want %d or %d", len(elems), rawTradeArityV1, rawTradeArityV2)
	}

	var out RawTrade
	stringFields := []struct {
		index int
		name  string
		dst   *string
	}{
		{rawTradePrice, "price", &out.Price},
		{rawTradeVolume, "volume", &out.Volume},
		{rawTradeSide, "side", &out.Side},
		{rawTradeOrderType, "order type", &out.OrderType},
		{rawTradeMisc, "misc", &out.Misc},
	}
	for _, f := range stringFields {
		if err := json.Unmarshal(elems[f.index], f.dst); err != nil {
			return fmt.Errorf("raw trade element %d (%s): %w", f.index, f.name, err)
		}
	}

	if err := json.Unmarshal(elems[rawTradeTime], &out.Time); err != nil {
		return fmt.Errorf("raw trade element %d (time): %w", rawTradeTime, err)
	}
	if out.Time == "" {
		return fmt.Errorf("raw trade element %d (time): empty", rawTradeTime)
	}

	if len(elems) == rawTradeArityV2 {
		if err := json.Unmarshal(elems[rawTradeID], &out.TradeID); err != nil {
			return fmt.Errorf("raw trade element %d (trade id): %w", rawTradeID, err)
		}
	}

	*r = out
	return nil
}

// HistoryPage is one decoded page of the Trades endpoint.
type HistoryPage struct {
	// PairKey is the exchange-internal alias the pair was echoed under, e.g. "XETHZEUR".
	PairKey string
	Trades  []RawTrade
	// Last is the opaque continuation cursor, a decimal string of Unix nanoseconds.
	Last string
}

// Cursor parses Last as the integer cursor for the next request.
func (p *HistoryPage) Cursor() (int64, error) {
	cursor, err := strconv.ParseInt(p.Last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid continuation cursor %q: %w", p.Last, err)
	}
	return cursor, nil
}

// historyResult captures the Trades result before the pair key is known:
// "last" is decoded eagerly and every other key lands in series.
type historyResult struct {
	Last   string
	series map[string]json.RawMessage
}

func (h *historyResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	lastRaw, ok := fields["last"]
	if !ok {
		return fmt.Errorf("history result has no \"last\" field")
	}
	delete(fields, "last")

	// The cursor is documented as a string but tolerate a bare number.
	var last string
	if err := json.Unmarshal(lastRaw, &last); err != nil {
		var n json.Number
		if nerr := json.Unmarshal(lastRaw, &n); nerr != nil {
			return fmt.Errorf("history result \"last\" is neither string nor number: %w", err)
		}
		last = n.String()
	}

	h.Last = last
	h.series = fields
	return nil
}

// page performs the pair key lookup. Exactly one key besides "last" must be
// present; zero or several are a malformed response.
func (h historyResult) page() (*HistoryPage, error) {
	if len(h.series) != 1 {
		keys := make([]string, 0, len(h.series))
		for k := range h.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("expected exactly one pair key in history result, found %d %v", len(keys), keys)
	}

	var pairKey string
	var raw json.RawMessage
	for k, v := range h.series {
		pairKey, raw = k, v
	}

	var trades []RawTrade
	if err := json.Unmarshal(raw, &trades); err != nil {
		return nil, fmt.Errorf("pair %s: %w", pairKey, err)
	}

	return &HistoryPage{PairKey: pairKey, Trades: trades, Last: h.Last}, nil
}

// Asset is reference data for one asset returned by the Assets endpoint.
type Asset struct {
	Altname         string `json:"altname"`
	Aclass          string `json:"aclass"`
	Decimals        int    `json:"decimals"`
	DisplayDecimals int    `json:"display_decimals"`
}

type serverTime struct {
	UnixTime int64  `json:"unixtime"`
	RFC1123  string `json:"rfc1123"`
}
