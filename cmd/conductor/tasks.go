package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conductor/job"
)

// simulatedDuration is how long an unregistered task "runs".
const simulatedDuration = 3 * time.Second

type simulateInput struct {
	DurationMs int    `json:"durationMs"`
	Fail       string `json:"fail"`
}

type simulateOutput struct {
	Elapsed string `json:"elapsed"`
}

// registerTasks installs the built-in handlers. Task names without a
// handler fall back to a simulated run so the server is usable before any
// real handlers are wired in.
func registerTasks(reg *job.Registry) {
	reg.RegisterFunc("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})

	job.Register(reg, job.NewDefinition("sleep", simulate))

	reg.SetFallback(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var in simulateInput
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &in) //nolint:errcheck // arbitrary payloads are allowed
		}
		out, err := simulate(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
}

// simulate sleeps for the requested duration and fails when asked to.
func simulate(ctx context.Context, in simulateInput) (simulateOutput, error) {
	d := simulatedDuration
	if in.DurationMs > 0 {
		d = time.Duration(in.DurationMs) * time.Millisecond
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return simulateOutput{}, ctx.Err()
	}

	if in.Fail != "" {
		return simulateOutput{}, fmt.Errorf("simulated failure: %s", in.Fail)
	}
	return simulateOutput{Elapsed: d.String()}, nil
}
