package transports

import "context"

// Transport is a client-facing event boundary. Implementations own
// their network lifecycle; session wiring happens per connection.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ReadyReporter exposes readiness metadata (listen URLs and the like)
// for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
