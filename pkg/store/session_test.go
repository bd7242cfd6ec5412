package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("0123456789abcdef0123456789abcdef", time.Hour)

	sessionToken, err := s.NewSession("acc-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	id, ok, err := s.GetAccountIDByToken(sessionToken)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok || id != "acc-1" {
		t.Fatalf("expected acc-1, got %q ok=%v", id, ok)
	}
}

func TestJWTSessionRejectsGarbageAndForeignTokens(t *testing.T) {
	s := NewJWTSessionStore("0123456789abcdef0123456789abcdef", time.Hour)

	if _, ok, err := s.GetAccountIDByToken("garbage"); ok || err != nil {
		t.Fatalf("garbage token: ok=%v err=%v", ok, err)
	}

	other := NewJWTSessionStore("another-secret-another-secret-xx", time.Hour)
	foreign, err := other.NewSession("acc-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := s.GetAccountIDByToken(foreign); ok || err != nil {
		t.Fatalf("foreign-signed token must not verify: ok=%v err=%v", ok, err)
	}
}

func TestRedisSessionRoundTrip(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.Addr(), "", time.Hour)

	sessionToken, err := s.NewSession("acc-2")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	id, ok, err := s.GetAccountIDByToken(sessionToken)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok || id != "acc-2" {
		t.Fatalf("expected acc-2, got %q ok=%v", id, ok)
	}

	if err := s.DeleteSession(sessionToken); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetAccountIDByToken(sessionToken); ok || err != nil {
		t.Fatalf("deleted session must not resolve: ok=%v err=%v", ok, err)
	}
}

func TestRedisSessionExpires(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.Addr(), "", time.Minute)

	sessionToken, err := s.NewSession("acc-3")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	redis.FastForward(2 * time.Minute)
	if _, ok, err := s.GetAccountIDByToken(sessionToken); ok || err != nil {
		t.Fatalf("expired session must not resolve: ok=%v err=%v", ok, err)
	}
}
