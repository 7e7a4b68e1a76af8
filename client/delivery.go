package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/webhook"
)

type deliveryList struct {
	Deliveries []*webhook.Delivery `json:"deliveries"`
}

// Deliveries lists webhook deliveries matching f.
func (c *Client) Deliveries(ctx context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if !f.JobID.IsNil() {
		q.Set("jobId", f.JobID.String())
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	var list deliveryList
	if err := c.do(ctx, http.MethodGet, "/deliveries", q, nil, &list); err != nil {
		return nil, err
	}
	return list.Deliveries, nil
}

// Delivery retrieves one delivery.
func (c *Client) Delivery(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	var d webhook.Delivery
	if err := c.do(ctx, http.MethodGet, "/deliveries/"+deliveryID.String(), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Replay resets a dead-lettered delivery to Pending.
func (c *Client) Replay(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	var d webhook.Delivery
	if err := c.do(ctx, http.MethodPost, "/deliveries/"+deliveryID.String()+"/replay", nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
