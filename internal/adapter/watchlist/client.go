// Package watchlist screens parties against a remote sanctions service.
package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// Config configures Client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Circuit breaker settings.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultConfig returns the breaker defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:             baseURL,
		Timeout:             500 * time.Millisecond,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

type screenResponse struct {
	Party  string `json:"party"`
	Listed bool   `json:"listed"`
}

// Client implements usecase.WatchlistClient over HTTP behind a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// NewClient creates a watchlist client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("watchlist base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid watchlist URL: %w", err)
	}

	defaults := DefaultConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaults.HalfOpenRequests
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "watchlist_client").Logger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "watchlist",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return c, nil
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Screen reports whether party is listed. An open breaker fails fast with
// domain.ErrExternalServiceUnavailable; deadlines surface as domain.ErrExternalServiceTimeout.
func (c *Client) Screen(ctx context.Context, party string) (bool, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.screen(ctx, party)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return false, fmt.Errorf("%w: %v", domain.ErrExternalServiceUnavailable, err)
		case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
			return false, fmt.Errorf("%w: %v", domain.ErrExternalServiceTimeout, err)
		}
		return false, err
	}

	return result.(bool), nil
}

func (c *Client) screen(ctx context.Context, party string) (bool, error) {
	endpoint := c.baseURL + "/screen?party=" + url.QueryEscape(party)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%w: watchlist returned %d: %s", domain.ErrExternalServiceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out screenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode watchlist response: %w", err)
	}

	return out.Listed, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
