package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SortedSetCounter is the multi-process Strategy backend, adapted
// near-verbatim from the teacher's app/ratelimit.SortedSetCounter
// (ZREMRANGEBYSCORE/ZADD/ZCOUNT sliding-window pipeline over Redis).
type SortedSetCounter struct {
	client *redis.Client
}

const (
	sortedSetMax = "+inf"
	sortedSetMin = "-inf"
)

var _ Strategy = &SortedSetCounter{}

// NewSortedSetCounterStrategy builds a Strategy backed by client.
func NewSortedSetCounterStrategy(client *redis.Client) *SortedSetCounter {
	return &SortedSetCounter{client: client}
}

// Run mirrors the teacher's SortedSetCounter.Run: trims expired members,
// adds a fresh member for this request, and counts the surviving window.
func (s *SortedSetCounter) Run(ctx context.Context, r Request) (Result, error) {
	var (
		now       = time.Now().UTC()
		expiresAt = now.Add(r.Duration)
		minimum   = now.Add(-r.Duration)
		res       = Result{
			State:     Deny,
			ExpiresAt: expiresAt,
		}
	)

	c, err := s.client.ZCount(ctx, r.Key, strconv.FormatInt(minimum.UnixMilli(), 10), sortedSetMax).Uint64()
	if err == nil && c >= r.Limit {
		res.TotalRequests = c
		return res, nil
	}

	p := s.client.Pipeline()

	removeOldest := p.ZRemRangeByScore(ctx, r.Key, "0", strconv.FormatInt(minimum.UnixMilli(), 10))

	add := p.ZAdd(ctx, r.Key, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.New().String(),
	})

	count := p.ZCount(ctx, r.Key, sortedSetMin, sortedSetMax)

	if _, err = p.Exec(ctx); err != nil {
		return res, errors.Wrapf(err, "failed to execute sorted set pipeline for key %q", r.Key)
	}

	if err = removeOldest.Err(); err != nil {
		return res, errors.Wrapf(err, "failed to remove oldest items for key %q", r.Key)
	}

	if err = add.Err(); err != nil {
		return res, errors.Wrapf(err, "failed to add item for key %q", r.Key)
	}

	total, err := count.Result()
	if err != nil {
		return res, errors.Wrapf(err, "failed to count items for key %q", r.Key)
	}

	res.TotalRequests = uint64(total)

	if res.TotalRequests > r.Limit {
		return res, nil
	}

	res.State = Allow

	return res, nil
}

// Peek reports the current window count without adding a member, for
// §4.K's non-keep-alive inspect-only path.
func (s *SortedSetCounter) Peek(ctx context.Context, r Request) (Result, error) {
	now := time.Now().UTC()
	minimum := now.Add(-r.Duration)

	res := Result{State: Deny, ExpiresAt: now.Add(r.Duration)}

	c, err := s.client.ZCount(ctx, r.Key, strconv.FormatInt(minimum.UnixMilli(), 10), sortedSetMax).Uint64()
	if err != nil {
		return res, errors.Wrapf(err, "failed to count items for key %q", r.Key)
	}

	res.TotalRequests = c

	if c < r.Limit {
		res.State = Allow
	}

	return res, nil
}
