package ratelimiter

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewDisabledReturnsNilAllowingAll(t *testing.T) {
	l := New(Config{Enabled: false, RPS: 1, Burst: 1})
	if l != nil {
		t.Fatal("expected nil limiter when disabled")
	}
	for i := 0; i < 10; i++ {
		if !l.Allow("ip:1.2.3.4", time.Now()) {
			t.Fatal("nil limiter must allow")
		}
	}
	if New(Config{Enabled: true, RPS: 0, Burst: 1}) != nil {
		t.Fatal("expected nil limiter for invalid rps")
	}
}

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	l := New(Config{Enabled: true, RPS: 1, Burst: 2})
	now := time.Unix(1_700_000_000, 0)
	if !l.Allow("a", now) || !l.Allow("a", now) {
		t.Fatal("expected burst to be allowed")
	}
	if l.Allow("a", now) {
		t.Fatal("expected third request in same instant to be limited")
	}
	if !l.Allow("b", now) {
		t.Fatal("expected independent bucket for other key")
	}
	if !l.Allow("a", now.Add(time.Second)) {
		t.Fatal("expected token to refill after one second")
	}
}

func TestAllowEvictsIdleKeys(t *testing.T) {
	l := New(Config{Enabled: true, RPS: 100, Burst: 100, IdleTTL: time.Minute})
	start := time.Unix(1_700_000_000, 0)
	l.Allow("stale", start)
	later := start.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow("fresh", later)
	}
	if l.Len() != 1 {
		t.Fatalf("expected stale key evicted, tracked=%d", l.Len())
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := ClientKey(req, ""); got != "ip:10.0.0.7" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := ClientKey(req, "tok"); got != "cred:tok" {
		t.Fatalf("unexpected key %q", got)
	}
	req.RemoteAddr = "garbage"
	if got := ClientKey(req, ""); got != "ip:garbage" {
		t.Fatalf("unexpected key %q", got)
	}
	req.RemoteAddr = ""
	if got := ClientKey(req, ""); got != "ip:unknown" {
		t.Fatalf("unexpected key %q", got)
	}
}
