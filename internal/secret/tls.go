package secret

import (
	"context"
	"crypto/tls"
	"fmt"
)

// LoadTLSCertificate fetches certName/keyName from src and parses them as a
// PEM certificate/key pair, for servers terminating HTTPS directly instead
// of behind a terminating load balancer.
func LoadTLSCertificate(ctx context.Context, src Source, certName, keyName string) (tls.Certificate, error) {
	certPEM, err := src.Get(ctx, certName)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("secret: load certificate: %w", err)
	}

	keyPEM, err := src.Get(ctx, keyName)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("secret: load key: %w", err)
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}
