// Package stargate is a read-only client for the Stargate aggregator REST API.
package stargate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "stargate").Logger()
}

// ErrUpstreamUnavailable wraps every failure to reach the aggregator or to get a usable answer
// from it. The client never retries; that decision belongs to the caller.
var ErrUpstreamUnavailable = errors.New("stargate upstream unavailable")

// StatusError is a non-2xx aggregator response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// ClientConfig controls the aggregator client
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://stargate.finance/api/v1
	BaseURL string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls; zero disables the limiter
	RequestsPerSecond float64
	// Burst is the limiter bucket size
	Burst int
}

// DefaultClientConfig returns the public endpoint with a conservative request rate
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://stargate.finance/api/v1",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// Client calls the aggregator's chains, tokens and quotes endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a new aggregator client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultClientConfig().BaseURL
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid stargate base url %q: %w", config.BaseURL, err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}

	client := &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
	}
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	log.Info().
		Str("url", client.baseURL).
		Float64("rps", config.RequestsPerSecond).
		Msg("Stargate client initialized")
	return client, nil
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %w", ErrUpstreamUnavailable, err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", ErrUpstreamUnavailable, err)
	}

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Stargate request")

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, statusErr)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", ErrUpstreamUnavailable, path, err)
	}
	return nil
}

// ListChains returns every chain the aggregator supports.
func (c *Client) ListChains(ctx context.Context) ([]models.Chain, error) {
	var resp struct {
		Chains []models.Chain `json:"chains"`
	}
	if err := c.getJSON(ctx, "/chains", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chains, nil
}

// ListTokens returns every token the aggregator supports, across all chains.
func (c *Client) ListTokens(ctx context.Context) ([]models.Token, error) {
	var resp struct {
		Tokens []models.Token `json:"tokens"`
	}
	if err := c.getJSON(ctx, "/tokens", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

// QuoteQuery builds the query string of GET /quotes.
func QuoteQuery(req models.BridgeQuoteRequest) url.Values {
	q := url.Values{}
	q.Set("srcToken", req.SrcToken)
	q.Set("dstToken", req.DstToken)
	q.Set("srcAddress", req.SrcAddress)
	q.Set("dstAddress", req.DstAddress)
	q.Set("srcChainKey", req.SrcChainKey)
	q.Set("dstChainKey", req.DstChainKey)
	q.Set("srcAmount", req.SrcAmount)
	q.Set("dstAmountMin", req.DstAmountMin)
	return q
}

// GetQuotes requests every candidate quote for req. Quotes the aggregator marked with an error
// are returned as well; picking one is up to the caller.
func (c *Client) GetQuotes(ctx context.Context, req models.BridgeQuoteRequest) ([]models.StargateQuote, error) {
	var resp struct {
		Quotes []models.StargateQuote `json:"quotes"`
	}
	if err := c.getJSON(ctx, "/quotes", QuoteQuery(req), &resp); err != nil {
		return nil, err
	}
	log.Debug().
		Str("src", req.SrcChainKey).
		Str("dst", req.DstChainKey).
		Int("quotes", len(resp.Quotes)).
		Msg("Quotes received")
	return resp.Quotes, nil
}
