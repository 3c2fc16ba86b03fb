// Package secret loads server-side credential material — a TLS
// certificate/key pair for HTTPS termination, a Redis AUTH password — from a
// pluggable backing store. This is unrelated to client authentication
// (explicitly out of scope per §2's Non-goals): nothing here ever reads a
// value off an inbound request.
package secret

import "context"

type (
	// Secret is an opaque credential payload, typically PEM bytes or a raw
	// password.
	Secret = []byte

	// Source fetches the named secret from some backing store.
	Source interface {
		Get(ctx context.Context, name string) (Secret, error)
	}
)
