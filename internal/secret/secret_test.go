package secret

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSourceReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(path, []byte("cert-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource()
	got, err := src.Get(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "cert-bytes" {
		t.Errorf("got %q", got)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource()
	if _, err := src.Get(context.Background(), "/no/such/file"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestEnvSourceDecodesBase64(t *testing.T) {
	t.Setenv("BARE_TEST_SECRET", base64.StdEncoding.EncodeToString([]byte("hello")))

	src := NewEnvSource()
	got, err := src.Get(context.Background(), "BARE_TEST_SECRET")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want hello", got)
	}
}

func TestEnvSourceFallsBackToRawValue(t *testing.T) {
	t.Setenv("BARE_TEST_SECRET_RAW", "-----BEGIN CERTIFICATE-----not base64-----")

	src := NewEnvSource()
	got, err := src.Get(context.Background(), "BARE_TEST_SECRET_RAW")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "-----BEGIN CERTIFICATE-----not base64-----" {
		t.Errorf("got %q", got)
	}
}

func TestEnvSourceMissingVariable(t *testing.T) {
	src := NewEnvSource()
	if _, err := src.Get(context.Background(), "BARE_TEST_SECRET_UNSET"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

type flakySource struct {
	failures int
	calls    int
}

func (s *flakySource) Get(_ context.Context, name string) (Secret, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("not ready yet")
	}
	return []byte(name), nil
}

func TestBackoffSourceRetriesUntilSuccess(t *testing.T) {
	flaky := &flakySource{failures: 2}
	src := NewBackoffSource(5, time.Millisecond, flaky)

	got, err := src.Get(context.Background(), "secret-name")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "secret-name" {
		t.Errorf("got %q", got)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
}

func TestBackoffSourceGivesUpAfterTries(t *testing.T) {
	flaky := &flakySource{failures: 10}
	src := NewBackoffSource(3, time.Millisecond, flaky)

	if _, err := src.Get(context.Background(), "x"); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
}

func TestBackoffSourceRespectsContextCancel(t *testing.T) {
	flaky := &flakySource{failures: 100}
	src := NewBackoffSource(100, time.Hour, flaky)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

type staticSource map[string]Secret

func (s staticSource) Get(_ context.Context, name string) (Secret, error) {
	v, ok := s[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func TestLoadTLSCertificate(t *testing.T) {
	certPEM, keyPEM := generateSelfSignedPEM(t)

	src := staticSource{"cert": certPEM, "key": keyPEM}

	cert, err := LoadTLSCertificate(context.Background(), src, "cert", "key")
	if err != nil {
		t.Fatalf("LoadTLSCertificate: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Error("expected at least one certificate in the chain")
	}
}

func TestLoadTLSCertificateMissingCert(t *testing.T) {
	src := staticSource{}
	if _, err := LoadTLSCertificate(context.Background(), src, "cert", "key"); err == nil {
		t.Fatal("expected an error when the cert secret is missing")
	}
}
