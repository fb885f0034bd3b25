package starling

import (
	"testing"
	"time"
)

func TestConnectionRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewConnectionRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("1.2.3.4") {
		t.Error("expected first connection to be allowed")
	}
	if !rl.Allow("1.2.3.4") {
		t.Error("expected second connection to be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("expected third connection to be rejected")
	}
}

func TestConnectionRateLimiter_IndependentPerIP(t *testing.T) {
	rl := NewConnectionRateLimiter(1, time.Minute)
	defer rl.Stop()

	if !rl.Allow("1.2.3.4") {
		t.Error("expected first IP's connection to be allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("expected second IP's connection to be allowed independently")
	}
}

func TestConnectionRateLimiter_WindowResets(t *testing.T) {
	rl := NewConnectionRateLimiter(1, 10*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("1.2.3.4") {
		t.Fatal("expected first connection to be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("expected second connection within window to be rejected")
	}

	time.Sleep(20 * time.Millisecond)

	if !rl.Allow("1.2.3.4") {
		t.Error("expected connection to be allowed again after window elapsed")
	}
}

func TestIPFilter_AllowMode(t *testing.T) {
	f := NewIPFilter(IPFilterModeAllow)
	f.Allow("1.2.3.4")

	if !f.IsAllowed("1.2.3.4") {
		t.Error("expected allow-listed IP to be allowed")
	}
	if f.IsAllowed("5.6.7.8") {
		t.Error("expected non-allow-listed IP to be rejected")
	}
}

func TestIPFilter_DenyMode(t *testing.T) {
	f := NewIPFilter(IPFilterModeDeny)
	f.Deny("1.2.3.4")

	if f.IsAllowed("1.2.3.4") {
		t.Error("expected deny-listed IP to be rejected")
	}
	if !f.IsAllowed("5.6.7.8") {
		t.Error("expected non-deny-listed IP to be allowed")
	}
}
