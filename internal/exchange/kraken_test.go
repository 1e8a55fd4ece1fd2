package exchange

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

func TestKrakenClient_EndToEnd(t *testing.T) {
	var requests atomic.Int32
	var sinces []string

	server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/Trades": func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			assert.Equal(t, "ETHEUR", r.URL.Query().Get("pair"))
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

			since := r.URL.Query().Get("since")
			sinces = append(sinces, since)

			w.Header().Set("Content-Type", "application/json")
			switch since {
			case strconv.FormatInt(firstSince, 10):
				_, _ = w.Write([]byte(twoTradePage))
			case strconv.FormatInt(secondSince, 10):
				_, _ = w.Write([]byte(emptyPage))
			default:
				_, _ = w.Write([]byte(`{"error":["EGeneral:Invalid arguments"]}`))
			}
		},
	})
	defer server.Close()

	client := NewKrakenClient(NewHTTPTransport(server.URL, WithTransportLogger(createTestLogger())), createTestLogger())
	stream := NewTradeStream(client, ethEUR, firstSince, createTestLogger())

	ctx := context.Background()
	var timestamps []int64
	for {
		trade, err := stream.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		timestamps = append(timestamps, trade.Timestamp)
	}

	assert.Equal(t, []int64{15751277679842, 15751277679793}, timestamps, "reverse arrival order")
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []string{"1575127767000000000", "1575145023655038533"}, sinces)
	assert.Equal(t, StateExhausted, stream.State())
	assert.Equal(t, 2, stream.PagesFetched())
}

func TestKrakenClient_History(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    apperrors.Kind
		nTrades int
	}{
		{name: "two trades", body: twoTradePage, nTrades: 2},
		{name: "empty page", body: emptyPage, nTrades: 0},
		{name: "unknown pair", body: unknownPairResponse, kind: apperrors.KindExchange},
		{name: "no pair key", body: `{"error":[],"result":{"last":"1"}}`, kind: apperrors.KindDecode},
		{name: "two pair keys", body: `{"error":[],"result":{"A":[],"B":[],"last":"1"}}`, kind: apperrors.KindDecode},
		{name: "html error page", body: `<html>Service Unavailable</html>`, kind: apperrors.KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{responses: []string{tt.body}}
			client := NewKrakenClient(transport, createTestLogger())

			page, err := client.History(context.Background(), "ETHEUR", 42)
			require.Equal(t, 1, transport.calls())
			assert.Equal(t, "Trades", transport.endpoints[0])
			assert.Equal(t, "ETHEUR", transport.queries[0].Get("pair"))
			assert.Equal(t, "42", transport.queries[0].Get("since"))

			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, apperrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "XETHZEUR", page.PairKey)
			assert.Len(t, page.Trades, tt.nTrades)
		})
	}
}

func TestKrakenClient_UnknownPairThroughStream(t *testing.T) {
	client := NewKrakenClient(&stubTransport{responses: []string{unknownPairResponse}}, createTestLogger())
	stream := NewTradeStream(client, ethEUR, 0, createTestLogger())

	_, err := stream.Next(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindExchange))
	assert.Equal(t, []string{"EQuery:Unknown asset pair"}, apperrors.ExchangeMessages(err))
	assert.NotErrorIs(t, err, ErrEndOfStream)
}

func TestKrakenClient_Assets(t *testing.T) {
	server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/Assets": func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.URL.RawQuery)
			_, _ = w.Write([]byte(assetsResponse))
		},
	})
	defer server.Close()

	client := NewKrakenClient(NewHTTPTransport(server.URL), createTestLogger())
	assets, err := client.Assets(context.Background())
	require.NoError(t, err)

	require.Contains(t, assets, "ADA")
	require.Contains(t, assets, "ATOM")
	assert.Equal(t, "currency", assets["ATOM"].Aclass)
	assert.Equal(t, 8, assets["ADA"].Decimals)
	assert.Equal(t, 6, assets["ADA"].DisplayDecimals)
}

func TestKrakenClient_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := NewKrakenClient(&stubTransport{responses: []string{timeResponse}}, createTestLogger())
		assert.NoError(t, client.HealthCheck(context.Background()))
	})

	t.Run("exchange reports an error", func(t *testing.T) {
		client := NewKrakenClient(&stubTransport{responses: []string{`{"error":["EService:Unavailable"]}`}}, createTestLogger())
		err := client.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.KindExchange, apperrors.KindOf(err))
	})

	t.Run("missing server time", func(t *testing.T) {
		client := NewKrakenClient(&stubTransport{responses: []string{`{"error":[],"result":{}}`}}, createTestLogger())
		err := client.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.KindDecode, apperrors.KindOf(err))
	})
}
