package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// ListOptions filters List. Zero fields mean "All".
type ListOptions struct {
	Status   job.Status
	Priority job.Priority
	Limit    int
	Offset   int
}

// JobList is a page of job summaries plus the total matching the filters.
// Use Get for payload and result.
type JobList struct {
	Jobs  []job.Summary `json:"jobs"`
	Total int64         `json:"total"`
}

// Submit creates a job and returns its ID.
func (c *Client) Submit(ctx context.Context, sub job.Submission) (id.JobID, error) {
	var resp struct {
		ID id.JobID `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", nil, sub, &resp); err != nil {
		return id.JobID{}, err
	}
	return resp.ID, nil
}

// Get retrieves a job by ID.
func (c *Client) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID.String(), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// List returns jobs in creation order.
func (c *Client) List(ctx context.Context, opts ListOptions) (*JobList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Priority != "" {
		q.Set("priority", string(opts.Priority))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var list JobList
	if err := c.do(ctx, http.MethodGet, "/jobs", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Cancel cancels a Pending job. It fails with conductor.ErrConflict when
// the job is already Running or terminal.
func (c *Client) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
