// Package ratelimit implements the per-IP token bucket of §4.K: a pluggable
// Strategy backend (Redis sorted-set for multi-process deployments, an
// in-process sliding window for single-instance ones) plus the HTTP-facing
// consume/inspect wrapper in http.go.
package ratelimit

import (
	"context"
	"time"
)

type (
	// Strategy runs one rate-limit check/consume for a Request. Adapted
	// in shape from the teacher's ratelimit.Strategy, with Peek added
	// for §4.K's non-keep-alive inspect-only path (the teacher's gateway
	// never needed to distinguish consume from inspect).
	Strategy interface {
		// Run consumes a token, counting the current request.
		Run(context.Context, Request) (Result, error)
		// Peek reports the current count without consuming a token.
		Peek(context.Context, Request) (Result, error)
	}

	// State is the outcome of a Strategy.Run call.
	State uint8

	// Request names the bucket (Key) and its configured limit/window.
	Request struct {
		Key      string
		Limit    uint64
		Duration time.Duration
	}

	// Result reports whether the request is allowed, the bucket's reset
	// time, and the current count.
	Result struct {
		State         State
		ExpiresAt     time.Time
		TotalRequests uint64
	}
)

const (
	Deny State = iota
	Allow
)
