package secret

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "google.golang.org/genproto/googleapis/cloud/secretmanager/v1"
)

// GoogleSecretManager sources secrets from Google Cloud Secret Manager —
// the recommended home for a production deployment's TLS private key or
// Redis password, rather than baking either into the config YAML.
type GoogleSecretManager struct {
	client *secretmanager.Client
}

// NewGoogleSecretManager dials Secret Manager using ambient application
// default credentials.
func NewGoogleSecretManager(ctx context.Context) (*GoogleSecretManager, error) {
	c, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret: init google secret manager client: %w", err)
	}

	return &GoogleSecretManager{client: c}, nil
}

// Get fetches the latest accessible version of the secret named by the
// fully qualified resource name
// "projects/*/secrets/*/versions/*".
func (m *GoogleSecretManager) Get(ctx context.Context, name string) (Secret, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{Name: name}

	r, err := m.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("secret: access %s: %w", name, err)
	}

	return r.Payload.Data, nil
}

// Close releases the underlying gRPC connection.
func (m *GoogleSecretManager) Close() error { return m.client.Close() }
