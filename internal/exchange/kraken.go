package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

// KrakenClient is a read-only client for the Kraken public REST API.
type KrakenClient struct {
	transport Transport
	logger    *slog.Logger
}

// NewKrakenClient creates a client that issues its requests through transport.
func NewKrakenClient(transport Transport, logger *slog.Logger) *KrakenClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &KrakenClient{
		transport: transport,
		logger:    logger,
	}
}

// History implements HistoryFetcher against the Trades endpoint.
func (k *KrakenClient) History(ctx context.Context, pair string, since int64) (*HistoryPage, error) {
	query := url.Values{}
	query.Set("pair", pair)
	query.Set("since", strconv.FormatInt(since, 10))

	raw, err := k.transport.Fetch(ctx, tradesEndpoint, query)
	if err != nil {
		return nil, err
	}

	result, err := decodeEnvelope[historyResult](tradesEndpoint, raw)
	if err != nil {
		return nil, err
	}

	page, err := result.page()
	if err != nil {
		return nil, apperrors.Decode(tradesEndpoint, err)
	}

	k.logger.Debug("fetched trade history page",
		"pair", pair,
		"pair_key", page.PairKey,
		"since", since,
		"trades", len(page.Trades),
		"last", page.Last)

	return page, nil
}

// Assets implements AssetProvider.
func (k *KrakenClient) Assets(ctx context.Context) (map[string]Asset, error) {
	raw, err := k.transport.Fetch(ctx, assetsEndpoint, nil)
	if err != nil {
		return nil, err
	}

	assets, err := decodeEnvelope[map[string]Asset](assetsEndpoint, raw)
	if err != nil {
		return nil, err
	}

	k.logger.Debug("fetched assets", "count", len(assets))
	return assets, nil
}

// HealthCheck queries the server time endpoint and checks that the exchange
// answers with a well-formed envelope.
func (k *KrakenClient) HealthCheck(ctx context.Context) error {
	raw, err := k.transport.Fetch(ctx, timeEndpoint, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	st, err := decodeEnvelope[serverTime](timeEndpoint, raw)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if st.UnixTime <= 0 {
		return fmt.Errorf("health check failed: %w", apperrors.Decodef(timeEndpoint, "server time missing"))
	}
	return nil
}

var _ Client = (*KrakenClient)(nil)
