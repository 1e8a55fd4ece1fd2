package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

func TestTradeStream_LIFOWithinPage(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{
		pages: []*HistoryPage{
			{
				PairKey: "XETHZEUR",
				Trades: []RawTrade{
					rawTrade("100", "1", "1575127767.0001"), // A
					rawTrade("200", "2", "1575127767.0002"), // B
				},
				Last: "1575127768000000000",
			},
		},
	}
	stream := NewTradeStream(fetcher, ethEUR, 1, createTestLogger())
	assert.Equal(t, StateFetching, stream.State())

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15751277670002), first.Timestamp, "B comes first")
	assert.Equal(t, StateDraining, stream.State())
	assert.Equal(t, 1, stream.Buffered())

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15751277670001), second.Timestamp, "then A")
	assert.Equal(t, StateFetching, stream.State())
	assert.Equal(t, 0, stream.Buffered())

	assert.Len(t, fetcher.sinces, 1, "no fetch ahead of demand")
	assert.Equal(t, 1, stream.PagesFetched())
	assert.Equal(t, int64(1575127768000000000), stream.Cursor())
}

func TestTradeStream_FollowsCursor(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{
		pages: []*HistoryPage{
			{PairKey: "XETHZEUR", Trades: []RawTrade{rawTrade("1", "1", "1575127767.1")}, Last: "1575127768000000000"},
			{PairKey: "XETHZEUR", Trades: []RawTrade{rawTrade("2", "1", "1575127769.1")}, Last: "1575127770000000000"},
			{PairKey: "XETHZEUR", Last: "1575127770000000000"},
		},
	}
	stream := NewTradeStream(fetcher, ethEUR, 1575127767000000000, createTestLogger())

	var count int
	for {
		_, err := stream.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		count++
	}

	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{1575127767000000000, 1575127768000000000, 1575127770000000000}, fetcher.sinces)
	assert.Equal(t, []string{"ETHEUR", "ETHEUR", "ETHEUR"}, fetcher.pairs)
	assert.Equal(t, 3, stream.PagesFetched())
}

func TestTradeStream_Termination(t *testing.T) {
	ctx := context.Background()

	for _, last := range []string{"1575145023655038533", "", "not-a-number"} {
		t.Run(fmt.Sprintf("last=%q", last), func(t *testing.T) {
			fetcher := &stubFetcher{pages: []*HistoryPage{{PairKey: "XETHZEUR", Last: last}}}
			stream := NewTradeStream(fetcher, ethEUR, 0, createTestLogger())

			for i := 0; i < 3; i++ {
				_, err := stream.Next(ctx)
				assert.ErrorIs(t, err, ErrEndOfStream)
			}
			assert.Equal(t, StateExhausted, stream.State())
			assert.Len(t, fetcher.sinces, 1)
			assert.NoError(t, stream.Err())
		})
	}
}

func TestTradeStream_FailureIsSticky(t *testing.T) {
	ctx := context.Background()
	exchangeErr := apperrors.Exchange("Trades", []string{"EQuery:Unknown asset pair"})
	fetcher := &stubFetcher{errs: []error{exchangeErr}}
	stream := NewTradeStream(fetcher, ethEUR, 0, createTestLogger())

	_, err := stream.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindExchange, apperrors.KindOf(err))
	assert.Equal(t, []string{"EQuery:Unknown asset pair"}, apperrors.ExchangeMessages(err))
	assert.Equal(t, StateFailed, stream.State())

	_, again := stream.Next(ctx)
	assert.Same(t, err, again)
	assert.Len(t, fetcher.sinces, 1, "a failed stream never refetches")
	assert.Equal(t, 0, stream.PagesFetched())
}

func TestTradeStream_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *stubFetcher
		kind    apperrors.Kind
	}{
		{
			name:    "unclassified fetcher error is a transport error",
			fetcher: &stubFetcher{errs: []error{fmt.Errorf("connection reset")}},
			kind:    apperrors.KindTransport,
		},
		{
			name:    "decode error passes through",
			fetcher: &stubFetcher{errs: []error{apperrors.Decodef("Trades", "two pair keys")}},
			kind:    apperrors.KindDecode,
		},
		{
			name: "bad price fails the page",
			fetcher: &stubFetcher{pages: []*HistoryPage{{
				PairKey: "XETHZEUR",
				Trades:  []RawTrade{rawTrade("1", "1", "1575127767.1"), rawTrade("NaN?", "1", "1575127767.2")},
				Last:    "1575127768000000000",
			}}},
			kind: apperrors.KindParse,
		},
		{
			name: "unparseable cursor on a non-empty page",
			fetcher: &stubFetcher{pages: []*HistoryPage{{
				PairKey: "XETHZEUR",
				Trades:  []RawTrade{rawTrade("1", "1", "1575127767.1")},
				Last:    "later",
			}}},
			kind: apperrors.KindDecode,
		},
		{
			name: "cursor that does not advance",
			fetcher: &stubFetcher{pages: []*HistoryPage{{
				PairKey: "XETHZEUR",
				Trades:  []RawTrade{rawTrade("1", "1", "1575127767.1")},
				Last:    "5",
			}}},
			kind: apperrors.KindDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := NewTradeStream(tt.fetcher, ethEUR, 10, createTestLogger())

			_, err := stream.Next(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.Equal(t, StateFailed, stream.State())
			assert.Equal(t, 0, stream.Buffered(), "nothing from a failed page is emitted")
			assert.Equal(t, int64(10), stream.Cursor())
		})
	}
}

func TestTradeStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &stubFetcher{}
	stream := NewTradeStream(fetcher, ethEUR, 0, createTestLogger())

	_, err := stream.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Empty(t, fetcher.sinces)
}

func TestStreamState_String(t *testing.T) {
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "StreamState(9)", StreamState(9).String())
}
