package events

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-client/domain"
	"prism-client/session"
)

type call struct {
	op   string
	kind domain.Kind
	id   string
}

type stubCache struct {
	mu    sync.Mutex
	calls []call
}

func (s *stubCache) Refresh(_ context.Context, kind domain.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{"refresh", kind, id})
	return nil
}

func (s *stubCache) Invalidate(kind domain.Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{"invalidate", kind, id})
}

func (s *stubCache) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

type stubSessions struct {
	mu         sync.Mutex
	subject    string
	signedOut  bool
	signOutWhy string
}

func (s *stubSessions) Current() (session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subject == "" || s.signedOut {
		return session.Session{}, false
	}
	return session.Session{Subject: s.subject}, true
}

func (s *stubSessions) SignOut(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut = true
	s.signOutWhy = reason
}

func newTestSubscriber(t *testing.T, rc *redis.Client) (*Subscriber, *stubCache, *stubSessions) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cache := &stubCache{}
	sessions := &stubSessions{subject: "user1"}
	return NewSubscriber(rc, "chan", cache, sessions, logger), cache, sessions
}

func TestHandleRoutesByType(t *testing.T) {
	s, cache, sessions := newTestSubscriber(t, nil)
	ctx := context.Background()

	msgs := []string{
		`{"EntityId":"T1","EntityType":"task","Type":"task-updated","UserId":"user1"}`,
		`{"EntityId":"P1","EntityType":"project","Type":"project-deleted","UserId":"user1"}`,
		`{"EntityId":"T9","EntityType":"task","Type":"task-updated","UserId":"someone-else"}`,
		`{"EntityId":"X","EntityType":"invoice","Type":"invoice-created","UserId":"user1"}`,
		`{"EntityId":"user1","EntityType":"user","Type":"user-settings-updated","UserId":"user1"}`,
	}
	for _, m := range msgs {
		if err := s.Handle(ctx, []byte(m)); err != nil {
			t.Fatalf("handle %s: %v", m, err)
		}
	}

	got := cache.snapshot()
	want := []call{{"refresh", domain.KindTask, "T1"}, {"invalidate", domain.KindProject, "P1"}}
	if len(got) != len(want) {
		t.Fatalf("unexpected calls %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: want %+v got %+v", i, want[i], got[i])
		}
	}

	if err := s.Handle(ctx, []byte(`{"Type":"user-logged-out","UserId":"user1"}`)); err != nil {
		t.Fatalf("handle logout: %v", err)
	}
	if !sessions.signedOut {
		t.Fatalf("expected remote logout to end the session")
	}
}

func TestHandleRejectsBadPayload(t *testing.T) {
	s, _, _ := newTestSubscriber(t, nil)
	if err := s.Handle(context.Background(), []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := s.Handle(context.Background(), []byte(`{"EntityType":"task","Type":"task-updated","UserId":"user1"}`)); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestHandleIgnoresWhenSignedOut(t *testing.T) {
	s, cache, sessions := newTestSubscriber(t, nil)
	sessions.signedOut = true
	if err := s.Handle(context.Background(), []byte(`{"EntityId":"T1","EntityType":"task","Type":"task-updated","UserId":"user1"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cache.snapshot()) != 0 {
		t.Fatalf("expected no cache calls without a session")
	}
}

func TestRunConsumesChannel(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	s, cache, _ := newTestSubscriber(t, rc)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)
	payload := `{"EntityId":"N1","EntityType":"notification","Type":"notification-created","UserId":"user1"}`
	if err := rc.Publish(context.Background(), "chan", payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(cache.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := cache.snapshot()
	if len(got) != 1 || got[0] != (call{"refresh", domain.KindNotification, "N1"}) {
		t.Fatalf("unexpected calls %+v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
}
