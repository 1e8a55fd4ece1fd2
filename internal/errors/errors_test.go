package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectedKind  Kind
		expectedRetry bool
	}{
		{
			name:          "transport failure",
			err:           Transport("fetch Trades", fmt.Errorf("connection refused")),
			expectedKind:  KindTransport,
			expectedRetry: true,
		},
		{
			name:          "wrapped transport failure",
			err:           fmt.Errorf("history: %w", Transport("fetch Trades", fmt.Errorf("no such host"))),
			expectedKind:  KindTransport,
			expectedRetry: true,
		},
		{
			name:          "decode failure",
			err:           Decodef("decode Trades", "unexpected end of JSON input"),
			expectedKind:  KindDecode,
			expectedRetry: false,
		},
		{
			name:          "exchange error",
			err:           Exchange("Trades", []string{"EQuery:Unknown asset pair"}),
			expectedKind:  KindExchange,
			expectedRetry: false,
		},
		{
			name:          "parse failure",
			err:           Parse("adapt trade", "price", fmt.Errorf("can't convert abc to decimal")),
			expectedKind:  KindParse,
			expectedRetry: false,
		},
		{
			name:          "unclassified",
			err:           fmt.Errorf("something went wrong"),
			expectedKind:  KindUnknown,
			expectedRetry: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedKind, KindOf(tt.err), "kind mismatch")
			assert.Equal(t, tt.expectedRetry, IsRetryable(tt.err), "retryable mismatch")
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("sync ETHEUR: %w", Exchange("Trades", []string{"EQuery:Unknown asset pair"}))

	assert.True(t, errors.Is(err, &Error{Kind: KindExchange}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTransport}))
	assert.True(t, errors.Is(err, &Error{}), "empty kind matches any classified error")
	assert.True(t, IsKind(err, KindExchange))
}

func TestExchangeMessages(t *testing.T) {
	msgs := []string{"EQuery:Unknown asset pair"}
	err := Exchange("Trades", msgs)
	msgs[0] = "mutated"

	assert.Equal(t, []string{"EQuery:Unknown asset pair"}, ExchangeMessages(err))
	assert.Nil(t, ExchangeMessages(Decodef("x", "y")))
	assert.Equal(t, "exchange error in Trades: EQuery:Unknown asset pair", err.Error())
}

func TestUnwrap(t *testing.T) {
	root := fmt.Errorf("dial tcp: connection refused")
	err := Transport("fetch Trades", root)

	assert.ErrorIs(t, err, root)
	assert.Equal(t, "transport error in fetch Trades: dial tcp: connection refused", err.Error())
}

func TestIsRetryable_Cancellation(t *testing.T) {
	assert.False(t, IsRetryable(Transport("fetch", context.Canceled)))
	assert.True(t, IsRetryable(Transport("fetch", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(nil))
}
