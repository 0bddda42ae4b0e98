package engine

import (
	"net/netip"
	"testing"
	"time"
)

func TestSessionBind(t *testing.T) {
	var s session
	a := netip.MustParseAddr("192.168.1.10")
	b := netip.MustParseAddr("192.168.1.11")

	if s.bound() || s.matches(a) {
		t.Fatal("expected empty session")
	}

	if _, rebound := s.bind(a); rebound {
		t.Error("first bind must not count as a rebind")
	}
	if _, rebound := s.bind(a); rebound {
		t.Error("binding the same address must not count as a rebind")
	}

	prev, rebound := s.bind(b)
	if !rebound || prev != a {
		t.Errorf("expected rebind from %s, got %s (%v)", a, prev, rebound)
	}
	if s.matches(a) || !s.matches(b) {
		t.Error("expected only the new target to match")
	}

	s.clear()
	if s.bound() {
		t.Error("expected clear to unbind")
	}
}

func TestRetryTimerGenerations(t *testing.T) {
	fire := make(chan uint64, 4)
	abort := make(chan struct{})
	defer close(abort)

	rt := newRetryTimer(fire, abort)
	rt.arm(time.Millisecond)
	stale := <-fire

	// re-arming invalidates the firing already delivered
	rt.arm(time.Hour)
	if rt.expire(stale) {
		t.Error("expected stale generation to be ignored")
	}
	if !rt.armed() {
		t.Error("expected timer to stay armed")
	}

	rt.stop()
	rt.arm(time.Millisecond)
	gen := <-fire
	if !rt.expire(gen) {
		t.Error("expected current generation to expire")
	}
	if rt.armed() {
		t.Error("expected timer to be disarmed after expiry")
	}
	if rt.expire(gen) {
		t.Error("expected a generation to expire only once")
	}
}
