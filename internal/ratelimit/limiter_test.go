package ratelimit

import (
	"testing"
	"time"
)

func TestBucketExhaustionAndRefill(t *testing.T) {
	b := newBucket(10, 2)

	if !b.take() || !b.take() {
		t.Fatal("Bucket should start full")
	}
	if b.take() {
		t.Error("Third take should fail on an empty bucket")
	}

	// 10 tokens/sec: one token back after ~100ms
	time.Sleep(150 * time.Millisecond)
	if !b.take() {
		t.Error("Bucket should refill over time")
	}
}

func TestBucketCapacityCap(t *testing.T) {
	b := newBucket(1000, 3)
	time.Sleep(50 * time.Millisecond)
	if got := b.available(); got > 3 {
		t.Errorf("available = %f, must not exceed capacity", got)
	}
}

func TestLimiterDisabled(t *testing.T) {
	if l := NewLimiter(&Config{Enabled: false}); l != nil {
		t.Error("Disabled config should yield a nil limiter")
	}
	if l := NewLimiter(nil); l != nil {
		t.Error("Nil config should yield a nil limiter")
	}

	var l *Limiter
	if !l.Allow("anything") {
		t.Error("Nil limiter must allow everything")
	}
}

func TestLimiterGlobal(t *testing.T) {
	l := NewLimiter(&Config{
		Enabled: true,
		Global:  LimitConfig{RequestsPerSecond: 1, BurstSize: 2},
	})

	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("Burst should be allowed")
	}
	if l.Allow("c") {
		t.Error("Global bucket should be exhausted")
	}
}

func TestLimiterPerTool(t *testing.T) {
	l := NewLimiter(&Config{
		Enabled: true,
		Global:  LimitConfig{RequestsPerSecond: 100, BurstSize: 100},
		Tools: []ToolLimit{
			{Name: "expensive", RequestsPerSecond: 1, BurstSize: 1},
		},
	})

	if !l.Allow("expensive") {
		t.Fatal("First call should pass")
	}
	if l.Allow("expensive") {
		t.Error("Tool bucket should be exhausted")
	}
	if !l.Allow("cheap") {
		t.Error("Other tools ride on the global bucket only")
	}
}
