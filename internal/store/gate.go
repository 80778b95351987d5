package store

import "context"

// loadGate serializes loads. A second load waits until the first has committed or
// failed; waiting honours context cancellation.
type loadGate chan struct{}

func newLoadGate() loadGate {
	return make(loadGate, 1)
}

// acquire blocks until the gate is free and returns the release func.
func (g loadGate) acquire(ctx context.Context) (func(), error) {
	select {
	case g <- struct{}{}:
		return func() { <-g }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
