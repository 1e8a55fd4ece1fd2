package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/johnayoung/go-trade-collector/internal/models"
)

// Fixtures taken from real Trades and Assets responses.
const (
	twoTradePage = `{"error":[],"result":{"XETHZEUR":[` +
		`["138.65000","1.55284051",1575127767.9793,"s","l",""],` +
		`["138.66000","10.00000000",1575127767.9842,"b","m",""]` +
		`],"last":"1575145023655038533"}}`

	emptyPage = `{"error":[],"result":{"XETHZEUR":[],"last":"1575145023655038533"}}`

	unknownPairResponse = `{"error":["EQuery:Unknown asset pair"]}`

	assetsResponse = `{"error":[],"result":{` +
		`"ADA":{"aclass":"currency","altname":"ADA","decimals":8,"display_decimals":6},` +
		`"ATOM":{"aclass":"currency","altname":"ATOM","decimals":8,"display_decimals":6}}}`

	timeResponse = `{"error":[],"result":{"unixtime":1688669448,"rfc1123":"Thu, 06 Jul 23 18:50:48 +0000"}}`

	firstSince  = int64(1575127767000000000)
	secondSince = int64(1575145023655038533)
)

var ethEUR = models.TradeSymbol{Base: "ETH", Quote: "EUR"}

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createMockServer(responses map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, exists := responses[r.URL.Path]; exists {
			handler(w, r)
		} else {
			http.NotFound(w, r)
		}
	}))
}

// stubTransport replays canned bodies and errors in call order.
type stubTransport struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	endpoints []string
	queries   []url.Values
}

func (s *stubTransport) Fetch(_ context.Context, endpoint string, query url.Values) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.endpoints)
	s.endpoints = append(s.endpoints, endpoint)
	s.queries = append(s.queries, query)

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, fmt.Errorf("unexpected call %d to %s", i, endpoint)
	}
	return []byte(s.responses[i]), nil
}

func (s *stubTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

// stubFetcher serves pre-decoded pages to a TradeStream.
type stubFetcher struct {
	pages  []*HistoryPage
	errs   []error
	sinces []int64
	pairs  []string
}

func (s *stubFetcher) History(_ context.Context, pair string, since int64) (*HistoryPage, error) {
	i := len(s.sinces)
	s.sinces = append(s.sinces, since)
	s.pairs = append(s.pairs, pair)

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.pages) {
		return &HistoryPage{PairKey: "XETHZEUR", Last: "0"}, nil
	}
	return s.pages[i], nil
}

func rawTrade(price, volume, time string) RawTrade {
	return RawTrade{Price: price, Volume: volume, Time: json.Number(time), Side: "b", OrderType: "l"}
}
