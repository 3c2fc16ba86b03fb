package bare

import (
	"net/http"
	"net/url"
	"testing"
)

func TestRemoteFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-bare-protocol", "https:")
	h.Set("x-bare-host", "example.com")
	h.Set("x-bare-port", "443")
	h.Set("x-bare-path", "/foo?bar=1")

	remote, err := RemoteFromHeaders(h)
	if err != nil {
		t.Fatalf("RemoteFromHeaders: %v", err)
	}

	want := Remote{Protocol: "https:", Host: "example.com", Port: 443, Path: "/foo?bar=1"}
	if remote != want {
		t.Errorf("got %+v, want %+v", remote, want)
	}
}

func TestRemoteFromHeadersMissingField(t *testing.T) {
	h := http.Header{}
	h.Set("x-bare-protocol", "https:")
	h.Set("x-bare-host", "example.com")
	h.Set("x-bare-path", "/")

	if _, err := RemoteFromHeaders(h); err == nil {
		t.Fatal("expected an error for a missing x-bare-port header")
	}
}

func TestRemoteFromURLDefaultsPort(t *testing.T) {
	u, err := url.Parse("wss://example.com/socket")
	if err != nil {
		t.Fatal(err)
	}

	remote, err := RemoteFromURL(u)
	if err != nil {
		t.Fatalf("RemoteFromURL: %v", err)
	}

	if remote.Port != 443 {
		t.Errorf("default port = %d, want 443", remote.Port)
	}
	if remote.Protocol != "wss:" {
		t.Errorf("protocol = %q, want wss:", remote.Protocol)
	}
}

func TestRemoteFromURLRejectsUnsupportedScheme(t *testing.T) {
	u, err := url.Parse("ftp://example.com/")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := RemoteFromURL(u); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}

func TestRemoteToURLAndHTTPURL(t *testing.T) {
	r := Remote{Protocol: "wss:", Host: "example.com", Port: 443, Path: "/a"}

	if got := r.ToURL().String(); got != "wss://example.com:443/a" {
		t.Errorf("ToURL = %q", got)
	}

	if got := r.HTTPURL().String(); got != "https://example.com:443/a" {
		t.Errorf("HTTPURL = %q, want the wss->https translation", got)
	}
}
