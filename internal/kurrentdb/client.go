package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
)

// Client wraps the EventStore client shared by the audit repository and
// the event bus.
type Client struct {
	db     *esdb.Client
	config *Config
	mu     sync.RWMutex
}

// NewClient creates a new KurrentDB client.
func NewClient(cfg *Config) (*Client, error) {
	settings, err := esdb.ParseConnectionString(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	db, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Client{
		db:     db,
		config: cfg,
	}, nil
}

// Connect verifies the server answers reads.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("failed to verify connection: %w", err)
	}
	return nil
}

// DB returns the underlying EventStore client.
func (c *Client) DB() *esdb.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.ReadEvents(ctx, "$streams", esdb.Forwards, 1); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// ReadEvents returns up to count events from a stream, starting at the
// beginning for Forwards and at the end for Backwards. A stream that does
// not exist yet reads as empty.
func (c *Client) ReadEvents(ctx context.Context, streamName string, dir esdb.Direction, count uint64) ([]*esdb.ResolvedEvent, error) {
	opts := esdb.ReadStreamOptions{Direction: dir, From: esdb.Start{}}
	if dir == esdb.Backwards {
		opts.From = esdb.End{}
	}

	stream, err := c.DB().ReadStream(ctx, streamName, opts, count)
	if err != nil {
		if IsStreamNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer stream.Close()

	var events []*esdb.ResolvedEvent
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			if IsStreamNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		if event.Event != nil {
			events = append(events, event)
		}
	}
}

// IsStreamNotFound reports whether err means the stream does not exist yet.
func IsStreamNotFound(err error) bool {
	var esdbErr *esdb.Error
	if errors.As(err, &esdbErr) {
		return esdbErr.Code() == esdb.ErrorCodeResourceNotFound
	}
	return false
}
