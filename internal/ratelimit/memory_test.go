package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRunAllowsUpToLimit(t *testing.T) {
	s := NewInMemoryStrategy()
	req := Request{Key: "a", Limit: 2, Duration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := s.Run(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Allow {
			t.Fatalf("request %d: state = %v, want Allow", i, res.State)
		}
	}

	res, err := s.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Deny {
		t.Errorf("third request under limit 2 should be denied, got %v", res.State)
	}
}

func TestInMemoryPeekDoesNotConsume(t *testing.T) {
	s := NewInMemoryStrategy()
	req := Request{Key: "b", Limit: 1, Duration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Peek(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Allow {
		t.Error("Peek should never have consumed a slot; the first Run should still be allowed")
	}
}

func TestInMemoryWindowExpires(t *testing.T) {
	s := NewInMemoryStrategy()
	req := Request{Key: "c", Limit: 1, Duration: time.Millisecond}
	ctx := context.Background()

	if _, err := s.Run(ctx, req); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	res, err := s.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Allow {
		t.Error("a hit outside the window should not count against the limit")
	}
}
