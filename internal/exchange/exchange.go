// Package exchange provides the Kraken public API client and the trade history
// pagination engine.
//
// The package is layered so each piece can be replaced in tests: a Transport
// performs raw HTTP GETs, the KrakenClient decodes envelopes and pages on top
// of a Transport, and a TradeStream walks the paginated history through a
// HistoryFetcher one trade at a time.
package exchange

import (
	"context"
	"net/url"
)

// Default API settings for the public Kraken REST API.
const (
	DefaultBaseURL   = "https://api.kraken.com/0/public"
	DefaultUserAgent = "go-trade-collector/1.0"

	tradesEndpoint = "Trades"
	assetsEndpoint = "Assets"
	timeEndpoint   = "Time"
)

// Transport performs a GET request against an API endpoint and returns the raw
// response body.
//
// Implementations must return the body for any HTTP status the server answers
// with; interpreting the payload is the caller's job. Connection failures,
// timeouts, cancellation and body read failures must be reported as transport
// errors (see internal/errors).
type Transport interface {
	// Fetch requests endpoint (relative to the transport's base URL) with the
	// given query parameters. A nil query sends no query string.
	Fetch(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// HistoryFetcher retrieves one page of trade history.
//
// The TradeStream depends only on this interface, so the pagination engine can
// be driven by a stub in tests or by a client for another API revision.
type HistoryFetcher interface {
	// History returns the page of trades executed at or after since for pair.
	//
	// since is the pagination cursor in Unix nanoseconds; 0 starts from the
	// earliest available trade. Errors are classified as transport, decode or
	// exchange errors.
	History(ctx context.Context, pair string, since int64) (*HistoryPage, error)
}

// AssetProvider retrieves asset reference data.
type AssetProvider interface {
	// Assets returns every asset the exchange lists, keyed by asset code.
	Assets(ctx context.Context) (map[string]Asset, error)
}

// HealthChecker checks that the exchange API is reachable and answering.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Client combines every read operation the collector uses.
type Client interface {
	HistoryFetcher
	AssetProvider
	HealthChecker
}
