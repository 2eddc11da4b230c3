package channels

import "testing"

func TestUserRateLimiter_BurstThenDeny(t *testing.T) {
	r := NewUserRateLimiter(30, 3)

	for i := 0; i < 3; i++ {
		if !r.Allow("u1") {
			t.Fatalf("request %d inside burst denied", i+1)
		}
	}
	if r.Allow("u1") {
		t.Error("request over burst allowed")
	}

	// Independent quota per user.
	if !r.Allow("u2") {
		t.Error("second user throttled by first user's quota")
	}
}

func TestUserRateLimiter_Disabled(t *testing.T) {
	r := NewUserRateLimiter(0, 0)
	if r.Enabled() {
		t.Error("zero quota reports enabled")
	}
	for i := 0; i < 100; i++ {
		if !r.Allow("u1") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestUserRateLimiter_DefaultBurst(t *testing.T) {
	r := NewUserRateLimiter(5, 0)
	for i := 0; i < 5; i++ {
		if !r.Allow("u1") {
			t.Fatalf("request %d inside default burst denied", i+1)
		}
	}
	if r.Allow("u1") {
		t.Error("sixth request allowed, burst should default to per-minute quota")
	}
}
