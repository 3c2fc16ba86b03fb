package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/ratelimit"
)

func TestServeHTTPAddsCORSHeadersOnEveryResponse(t *testing.T) {
	s := New(Config{Prefix: "/"})

	r := httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected a wildcard CORS header on a 404")
	}
}

func TestServeHTTPOptionsShortCircuits(t *testing.T) {
	s := New(Config{Prefix: "/"})

	r := httptest.NewRequest(http.MethodOptions, "/v1/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want 200", w.Code)
	}
}

func TestServeHTTPOutsideMountPrefix404s(t *testing.T) {
	s := New(Config{Prefix: "/bare/"})

	r := httptest.NewRequest(http.MethodGet, "/elsewhere", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestServeHTTPDispatchesMountedRoute(t *testing.T) {
	s := New(Config{Prefix: "/"})

	called := false
	s.Mount("v1/", HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if !called {
		t.Fatal("mounted handler was never invoked")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}

func TestServeHTTPUnmountedSubPathIsNotFoundJSON(t *testing.T) {
	s := New(Config{Prefix: "/"})

	r := httptest.NewRequest(http.MethodGet, "/v9/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("expected a JSON error body")
	}
}

func TestServeHTTPRecoversPanics(t *testing.T) {
	s := New(Config{Prefix: "/"})
	s.Mount("v1/", HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, r)

	if w.Code < 500 {
		t.Errorf("status = %d, want a 5xx from the error funnel", w.Code)
	}
}

func TestServeHTTPAppliesRateLimitBeforeDispatch(t *testing.T) {
	deny := ratelimit.HandleFunc(func(w http.ResponseWriter, r *http.Request, cfg ratelimit.Config) bool {
		w.WriteHeader(http.StatusTooManyRequests)
		return false
	})

	called := false
	s := New(Config{Prefix: "/", RateLimitOn: true, RateLimit: deny})
	s.Mount("v1/", HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if called {
		t.Error("handler should not run when the rate limiter denies the request")
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestServeManifestServesInstanceInfoAtMountRoot(t *testing.T) {
	manifest := bare.NewManifest(
		bare.Project{Name: "bare-server-go", Version: "1.0.0"},
		nil,
	)

	s := New(Config{Prefix: "/", Manifest: func() bare.Manifest { return manifest }})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got bare.Manifest
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
}

func TestServeManifestWithoutManifestConfigured404s(t *testing.T) {
	s := New(Config{Prefix: "/"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCloseStopsRoutingNewRequests(t *testing.T) {
	s := New(Config{Prefix: "/"})
	s.Mount("v1/", HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status after Close = %d, want 404", w.Code)
	}
}
