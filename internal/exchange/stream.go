package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/models"
)

// ErrEndOfStream is returned by TradeStream.Next once the history is
// exhausted. It is not a failure.
var ErrEndOfStream = errors.New("end of trade stream")

// StreamState is the lifecycle state of a TradeStream.
type StreamState int

const (
	// StateFetching means the buffer is empty and the next call fetches a page.
	StateFetching StreamState = iota
	// StateDraining means buffered trades remain from the last page.
	StateDraining
	// StateExhausted is terminal: an empty page was received.
	StateExhausted
	// StateFailed is terminal: a fetch or adaptation failed.
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateDraining:
		return "draining"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// TradeStream walks the trade history of one pair lazily, one trade per Next
// call, fetching a new page only when the previous one is fully consumed.
//
// Within a page trades are yielded last-first. Across pages the stream moves
// forward in time following the exchange's continuation cursor.
//
// A TradeStream is not safe for concurrent use.
type TradeStream struct {
	fetcher HistoryFetcher
	symbol  models.TradeSymbol
	logger  *slog.Logger

	cursor int64
	buffer []models.Trade
	state  StreamState
	err    error
	pages  int
}

// NewTradeStream creates a stream for symbol starting at since (Unix
// nanoseconds, 0 for the beginning of history). No request is made until the
// first call to Next.
func NewTradeStream(fetcher HistoryFetcher, symbol models.TradeSymbol, since int64, logger *slog.Logger) *TradeStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeStream{
		fetcher: fetcher,
		symbol:  symbol,
		logger:  logger.With("pair", symbol.String()),
		cursor:  since,
		state:   StateFetching,
	}
}

// Next returns the next trade.
//
// It returns ErrEndOfStream after an empty page, and on every call after
// that. Any other error is terminal: the stream enters StateFailed and keeps
// returning the same error. Cancelling ctx during a fetch yields a transport
// error.
func (s *TradeStream) Next(ctx context.Context) (models.Trade, error) {
	switch s.state {
	case StateExhausted:
		return models.Trade{}, ErrEndOfStream
	case StateFailed:
		return models.Trade{}, s.err
	}

	if len(s.buffer) == 0 {
		if err := s.fetch(ctx); err != nil {
			s.state = StateFailed
			s.err = err
			s.logger.Debug("trade stream failed", "since", s.cursor, "error", err)
			return models.Trade{}, err
		}
		if len(s.buffer) == 0 {
			s.state = StateExhausted
			s.logger.Debug("trade stream exhausted", "pages", s.pages, "cursor", s.cursor)
			return models.Trade{}, ErrEndOfStream
		}
	}

	last := len(s.buffer) - 1
	trade := s.buffer[last]
	s.buffer = s.buffer[:last]

	if len(s.buffer) == 0 {
		s.state = StateFetching
	} else {
		s.state = StateDraining
	}
	return trade, nil
}

// fetch loads the page at the current cursor into the buffer. The buffer and
// cursor are only replaced once the whole page adapted cleanly.
func (s *TradeStream) fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Transport(tradesEndpoint, err)
	}

	page, err := s.fetcher.History(ctx, s.symbol.String(), s.cursor)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.Transport(tradesEndpoint, err)
		}
		return err
	}
	s.pages++

	if len(page.Trades) == 0 {
		s.buffer = nil
		return nil
	}

	trades := make([]models.Trade, 0, len(page.Trades))
	for i, raw := range page.Trades {
		trade, err := AdaptTrade(raw, s.symbol)
		if err != nil {
			return fmt.Errorf("trade %d of page %d: %w", i, s.pages, err)
		}
		trades = append(trades, trade)
	}

	next, err := page.Cursor()
	if err != nil {
		return apperrors.Decode(tradesEndpoint, err)
	}
	if next <= s.cursor {
		return apperrors.Decodef(tradesEndpoint, "continuation cursor %d does not advance past %d", next, s.cursor)
	}

	s.logger.Debug("buffered trade page",
		"page", s.pages,
		"since", s.cursor,
		"next", next,
		"trades", len(trades))

	s.cursor = next
	s.buffer = trades
	return nil
}

// State returns the current lifecycle state.
func (s *TradeStream) State() StreamState {
	return s.state
}

// PagesFetched returns the number of pages successfully retrieved so far.
func (s *TradeStream) PagesFetched() int {
	return s.pages
}

// Buffered returns the number of trades left from the current page.
func (s *TradeStream) Buffered() int {
	return len(s.buffer)
}

// Cursor returns the cursor the next fetch will use.
func (s *TradeStream) Cursor() int64 {
	return s.cursor
}

// Symbol returns the pair the stream walks.
func (s *TradeStream) Symbol() models.TradeSymbol {
	return s.symbol
}

// Err returns the terminal error of a failed stream, or nil.
func (s *TradeStream) Err() error {
	return s.err
}
