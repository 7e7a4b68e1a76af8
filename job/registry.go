package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/conductor"
)

// Executor runs the business logic behind a task name. It is the opaque
// execution collaborator invoked by the worker pool.
type Executor interface {
	Execute(ctx context.Context, taskName string, payload json.RawMessage) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, taskName string, payload json.RawMessage) (json.RawMessage, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, taskName string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, taskName, payload)
}

// HandlerFunc is a type-erased handler working on raw JSON.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps task names to handlers and implements Executor.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a typed definition. The payload is decoded into P before
// the handler runs and the returned R is encoded as the job result.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func Register[P, R any](r *Registry, def *Definition[P, R]) {
	r.RegisterFunc(def.Name, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p P
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("decode payload for task %q: %w", def.Name, err)
			}
		}
		res, err := def.Handler(ctx, p)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode result for task %q: %w", def.Name, err)
		}
		return out, nil
	})
}

// RegisterFunc adds a raw handler for name, replacing any previous one.
func (r *Registry) RegisterFunc(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// SetFallback sets the handler used for task names without a registration.
func (r *Registry) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok && r.fallback != nil {
		return r.fallback, true
	}
	return h, ok
}

// Names returns every registered task name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute implements Executor.
func (r *Registry) Execute(ctx context.Context, taskName string, payload json.RawMessage) (json.RawMessage, error) {
	h, ok := r.Get(taskName)
	if !ok {
		return nil, fmt.Errorf("task %q: %w", taskName, conductor.ErrNoHandler)
	}
	return h(ctx, payload)
}
