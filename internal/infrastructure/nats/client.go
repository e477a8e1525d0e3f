// Package nats connects to the event bus that receives outbox events.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config holds NATS configuration.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns connection defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "bibank",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Client wraps a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials NATS and logs connection state changes.
func Connect(cfg Config, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

// PublishMsg publishes msg on the connection.
func (c *Client) PublishMsg(msg *nats.Msg) error {
	return c.conn.PublishMsg(msg)
}

// Flush waits until the server has processed buffered messages.
func (c *Client) Flush(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

// Name identifies the dependency in readiness output.
func (c *Client) Name() string { return "nats" }

// Check reports whether the connection is usable.
func (c *Client) Check(context.Context) error {
	if !c.conn.IsConnected() {
		return errors.New("nats not connected: " + c.conn.Status().String())
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	return c.conn.Drain()
}
