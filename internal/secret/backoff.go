package secret

import (
	"context"
	"time"
)

// BackoffSource retries a flaky Source (a secret manager API under cold
// start, a cert sidecar not yet ready) a fixed number of times with a fixed
// delay before giving up.
type BackoffSource struct {
	tries   int
	backoff time.Duration
	source  Source
}

// NewBackoffSource wraps source, retrying up to tries times with backoff
// between attempts.
func NewBackoffSource(tries int, backoff time.Duration, source Source) *BackoffSource {
	return &BackoffSource{tries: tries, backoff: backoff, source: source}
}

// Get retries source.Get, returning the last error if every attempt fails.
func (s *BackoffSource) Get(ctx context.Context, name string) (Secret, error) {
	var (
		secret []byte
		err    error
	)

	for i := 0; i < s.tries; i++ {
		if secret, err = s.source.Get(ctx, name); err == nil {
			return secret, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.backoff):
		}
	}

	return nil, err
}
