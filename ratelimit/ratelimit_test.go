package ratelimit

import "testing"

func TestNewDisablesThrottlingWhenPPSIsZero(t *testing.T) {
	if l := New(0); l != nil {
		t.Fatalf("expected a nil Throttle for pps=0, got %+v", l)
	}
}

func TestAllowOnANilThrottleNeverBlocksOrDenies(t *testing.T) {
	var l *Throttle
	for i := 0; i < 1000; i++ {
		if !l.Allow(1) {
			t.Fatal("expected a nil Throttle to always allow")
		}
	}
}

func TestAllowDeniesOnceTheConfiguredRateIsExceeded(t *testing.T) {
	l := New(100)

	allowed, denied := 0, 0
	for i := 0; i < int(l.checkEvery)+1; i++ {
		if l.Allow(1) {
			allowed++
		} else {
			denied++
		}
	}
	if denied == 0 {
		t.Fatal("expected Allow to deny once a full checkEvery batch was sent faster than the configured rate")
	}
	if allowed == 0 {
		t.Fatal("expected Allow to grant at least the first batch below the rate limit")
	}
}

func TestAllowNeverSleeps(t *testing.T) {
	l := New(1) // one packet per second: a blocking ThrottleN would stall this test
	for i := 0; i < int(l.checkEvery)*2; i++ {
		l.Allow(1)
	}
}
