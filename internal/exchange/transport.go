package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

const (
	defaultRequestTimeout = 30 * time.Second

	// Responses larger than this are truncated and fail to decode.
	maxResponseBytes = 32 << 20
)

// HTTPTransport is the production Transport backed by net/http.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			t.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) TransportOption {
	return func(t *HTTPTransport) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// WithTransportLogger sets the logger used for request tracing.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewHTTPTransport creates a transport rooted at baseURL, e.g.
// "https://api.kraken.com/0/public".
func NewHTTPTransport(baseURL string, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the URL all endpoints are resolved against.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

// Fetch implements Transport.
func (t *HTTPTransport) Fetch(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	op := "GET " + endpoint

	target := t.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.Transport(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Transport(op, fmt.Errorf("failed to read response body: %w", err))
	}

	t.logger.Debug("exchange request completed",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start))

	return body, nil
}

var _ Transport = (*HTTPTransport)(nil)
