// Package publisher holds the no-op event publisher; real backends live in
// the subpackages.
package publisher

import "context"

// NoOp drops every event. It backs deployments without a message broker.
type NoOp struct{}

// Publish discards the payload.
func (NoOp) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}
