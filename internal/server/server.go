// Package server implements the top-level dispatch of §4.G: mount-prefix
// routing over a fixed sub-path table, CORS, rate limiting, and the error
// funnel that renders any failure as a tagged bare.Error JSON body.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dghubble/trie"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/ratelimit"
)

// Handler serves one protocol version's sub-path. Its single ServeBare
// method handles both plain HTTP exchanges and requests whose Connection
// header asks for a protocol upgrade (the WebSocket tunnel paths).
type Handler interface {
	ServeBare(w http.ResponseWriter, r *http.Request)
}

// HandlerFunc adapts a plain function to Handler, the way http.HandlerFunc
// adapts one to http.Handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request)

// ServeBare calls f.
func (f HandlerFunc) ServeBare(w http.ResponseWriter, r *http.Request) { f(w, r) }

// Config is the set of mount-prefix routes and the shared pieces every
// handler is constructed against, grounded on the teacher's route-config
// shape (routes.go's configRoute tree) but flattened: bare-server's
// sub-path table is fixed by the protocol, not user-configurable.
type Config struct {
	Prefix          string
	RateLimit       ratelimit.HandleFunc
	RateLimitOn     bool
	RateLimitConfig ratelimit.Config
	LogErrors       bool

	// Manifest builds the Instance Info document served at the bare mount
	// root (component J, §3/§6.5). Called fresh per request since it
	// samples live memory usage; nil disables the endpoint.
	Manifest func() bare.Manifest
}

// Server is the bare tunnel's HTTP entrypoint. Grounded on the teacher's
// proxy.Proxy: a dispatch pipeline of named steps
// (handleRoot→handleRateLimit→handleCors→dispatch) over a
// github.com/dghubble/trie path table, generalized from the teacher's
// user-configured route tree to bare's fixed v1/v2/v3 sub-path table.
type Server struct {
	prefix          string
	routes          *trie.PathTrie
	rateLimit       ratelimit.HandleFunc
	rateLimitOn     bool
	rateLimitConfig ratelimit.Config
	logErrors       bool
	manifest        func() bare.Manifest
	closed          int32
	wg              sync.WaitGroup
}

// New builds a Server from cfg, with no routes mounted; call Mount for each
// protocol version before serving.
func New(cfg Config) *Server {
	return &Server{
		prefix:          cfg.Prefix,
		routes:          trie.NewPathTrie(),
		rateLimit:       cfg.RateLimit,
		rateLimitOn:     cfg.RateLimitOn,
		rateLimitConfig: cfg.RateLimitConfig,
		logErrors:       cfg.LogErrors,
		manifest:        cfg.Manifest,
	}
}

// Mount registers h to serve requests whose path, once the mount prefix is
// stripped, equals subPath (e.g. "v1/", "v2/ws-new-meta", "v3/"); the path
// trie matches whole segments, so "v1/" does not also serve "v1/other".
func (s *Server) Mount(subPath string, h Handler) {
	s.routes.Put(subPath, h)
}

// shouldRoute reports whether req falls under the mount prefix and the
// server hasn't been closed, per §4.G.
func (s *Server) shouldRoute(r *http.Request) bool {
	if atomic.LoadInt32(&s.closed) != 0 {
		return false
	}

	return strings.HasPrefix(r.URL.Path, s.prefix)
}

// ServeHTTP is the http.Handler entrypoint: CORS headers are appended to
// every response (success or error), OPTIONS short-circuits to 200 before
// dispatch, unknown paths 404, and handler panics/errors fall through the
// error funnel.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w.Header())

	if !s.shouldRoute(r) {
		http.NotFound(w, r)
		return
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sub := strings.TrimPrefix(r.URL.Path, s.prefix)

	if sub == "" {
		s.serveManifest(w, r)
		return
	}

	var handler Handler

	_ = s.routes.WalkPath(sub, func(key string, value interface{}) error {
		handler, _ = value.(Handler)
		return nil
	})

	if handler == nil {
		bare.New(http.StatusNotFound, bare.KindUnknown, "request.url", "no such route").WriteJSON(w, s.logErrors)
		return
	}

	if s.rateLimitOn && s.rateLimit != nil {
		if !s.rateLimit(w, r, s.rateLimitConfig) {
			return
		}
	}

	s.wg.Add(1)
	defer s.wg.Done()

	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = &panicError{rec}
			}

			bare.Wrap(err).WriteJSON(w, s.logErrors)
		}
	}()

	handler.ServeBare(w, r)
}

// serveManifest handles component J: GET on the bare mount root returns the
// Instance Manifest JSON (§3/§6.5); any other method is a 404, matching the
// fixed sub-path table's treatment of an unrecognized route.
func (s *Server) serveManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifest == nil || r.Method != http.MethodGet {
		bare.New(http.StatusNotFound, bare.KindUnknown, "request.url", "no such route").WriteJSON(w, s.logErrors)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.manifest())
}

// panicError adapts an arbitrary recovered panic value into an error.
type panicError struct{ v interface{} }

func (p *panicError) Error() string {
	if err, ok := p.v.(error); ok {
		return err.Error()
	}

	return "panic"
}

// Close marks the server closed (shouldRoute starts returning false for new
// requests) and waits for in-flight exchanges to finish. Matches §5's
// close()-triggered cancellation requirement; the actual per-exchange
// context cancellation is the caller's responsibility (each Handler should
// derive its context from the inbound *http.Request, whose context is
// canceled when the underlying connection closes).
func (s *Server) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.closed, 1)

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
