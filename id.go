package conductor

import "github.com/xraph/conductor/id"

// ID is the identifier type shared by jobs, deliveries, workers and events.
type ID = id.ID
