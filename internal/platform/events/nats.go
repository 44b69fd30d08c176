package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds NATS connection settings.
type Config struct {
	URL    string
	Name   string // client connection name
	Stream string // JetStream stream ensured on connect
	// Subjects bound to the stream, e.g. "notifications.credit.>".
	Subjects []string
}

// Client publishes events to NATS JetStream.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials NATS and ensures the configured stream exists.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if cfg.Stream != "" {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  cfg.Subjects,
			Retention: jetstream.LimitsPolicy,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}

	return &Client{conn: conn, js: js}, nil
}

// Publish sends data to a subject, waiting for JetStream acknowledgement.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Drain()
}
