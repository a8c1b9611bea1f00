package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	if New(0, 1, 0) != nil || New(1, 0, 0) != nil {
		t.Fatal("expected nil limiter for invalid args")
	}
	var l *MapLimiter
	if !l.Allow("k", time.Now()) {
		t.Fatal("nil limiter must allow")
	}
	if err := l.Wait(context.Background(), "k"); err != nil {
		t.Fatalf("nil limiter wait: %v", err)
	}
}

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Now()
	if !l.Allow("node", now) || !l.Allow("node", now) {
		t.Fatal("expected burst of 2 to pass")
	}
	if l.Allow("node", now) {
		t.Fatal("expected third call in same instant to be limited")
	}
	if !l.Allow("other", now) {
		t.Fatal("keys must not share buckets")
	}
	if !l.Allow("  ", now) {
		t.Fatal("blank key is not limited")
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", got)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(0.01, 1, time.Minute)
	ctx := context.Background()
	if err := l.Wait(ctx, "node"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, "node"); err == nil {
		t.Fatal("expected wait to fail when the next token is past the deadline")
	}

	cancelled, stop := context.WithCancel(ctx)
	stop()
	if err := l.Wait(cancelled, "fresh"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
