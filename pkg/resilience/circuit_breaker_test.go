package resilience

import (
	"testing"
	"time"
)

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)

	if !cb.Allow() {
		t.Fatalf("fresh breaker must allow")
	}
	cb.OnError()
	if !cb.Allow() {
		t.Fatalf("breaker must stay closed below threshold")
	}
	cb.OnError()
	if cb.Allow() {
		t.Fatalf("breaker must open at threshold")
	}

	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("breaker must allow after cooldown")
	}
}

func TestCircuitResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.OnError()
	cb.OnSuccess()
	cb.OnError()
	if !cb.Allow() {
		t.Fatalf("success must reset the failure count")
	}
}
