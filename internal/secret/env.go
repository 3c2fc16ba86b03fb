package secret

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
)

// ErrNotFound is returned by EnvSource when the named environment variable
// is unset or empty.
var ErrNotFound = errors.New("secret: not found")

// EnvSource reads a secret from an environment variable, base64-decoding it
// if it looks base64-encoded (the common convention for a PEM blob passed
// through a container's env) and falling back to the raw value otherwise.
type EnvSource struct{}

// NewEnvSource returns an EnvSource.
func NewEnvSource() *EnvSource { return &EnvSource{} }

// Get reads name as an environment variable.
func (s *EnvSource) Get(_ context.Context, name string) (Secret, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, ErrNotFound
	}

	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}

	return []byte(v), nil
}
