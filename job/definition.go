package job

import "context"

// Definition is a typed handler for one task name. P is the payload type
// and R the result type; both must be JSON-serializable.
type Definition[P, R any] struct {
	// Name is the task name clients submit.
	Name string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload P) (R, error)
}

// NewDefinition creates a typed handler definition.
func NewDefinition[P, R any](name string, handler func(ctx context.Context, payload P) (R, error)) *Definition[P, R] {
	return &Definition[P, R]{Name: name, Handler: handler}
}
