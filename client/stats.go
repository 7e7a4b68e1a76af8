package client

import (
	"context"
	"net/http"

	"github.com/xraph/conductor/engine"
)

// Stats retrieves scheduler counts and queue depths.
func (c *Client) Stats(ctx context.Context) (*engine.Stats, error) {
	var st engine.Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health returns nil when the server reports a reachable store.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}
