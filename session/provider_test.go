package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewProvider(NewTestAuth(testSecret, "api://aud", "https://issuer/"), logger)
}

func TestProviderSignInOut(t *testing.T) {
	p := newTestProvider(t)
	var events []Event
	p.Subscribe(func(ev Event) { events = append(events, ev) })

	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before sign in, got %v", err)
	}

	raw := signHS256(t, validClaims("user-1"))
	s, err := p.SignIn(raw)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.Subject != "user-1" {
		t.Fatalf("unexpected subject %q", s.Subject)
	}
	tok, err := p.Token(context.Background())
	if err != nil || tok != raw {
		t.Fatalf("expected bearer back, got %q, %v", tok, err)
	}

	p.SignOut("user")
	p.SignOut("again")
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after sign out, got %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != SignedIn || events[1].Kind != SignedOut || events[1].Reason != "user" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestProviderRejectsInvalidTokenWithoutEvent(t *testing.T) {
	p := newTestProvider(t)
	called := false
	p.Subscribe(func(Event) { called = true })

	if _, err := p.SignIn("not-a-jwt"); err == nil {
		t.Fatalf("expected error")
	}
	if called {
		t.Fatalf("listener must not run for a failed sign in")
	}
}

func TestProviderExpiredTokenIsNoSession(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.SignIn(signHS256(t, validClaims("user-1"))); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for expired token, got %v", err)
	}
}

func TestProviderUnsubscribe(t *testing.T) {
	p := newTestProvider(t)
	var order []string
	unsubA := p.Subscribe(func(Event) { order = append(order, "a") })
	p.Subscribe(func(Event) { order = append(order, "b") })

	if _, err := p.SignIn(signHS256(t, validClaims("u"))); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	unsubA()
	unsubA()
	p.SignOut("test")

	want := []string{"a", "b", "b"}
	if len(order) != len(want) {
		t.Fatalf("unexpected delivery %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected delivery %v", order)
		}
	}
}

func TestTokenHonoursContext(t *testing.T) {
	p := newTestProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Token(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
