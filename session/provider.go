// Package session holds the signed-in identity and announces session
// changes. Every change, sign-in or sign-out, invalidates the local mirror.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNoSession is returned by Token when nobody is signed in or the token
// has expired.
var ErrNoSession = errors.New("no active session")

// EventKind distinguishes session changes.
type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

// Event is emitted on every session change.
type Event struct {
	Kind    EventKind
	Subject string
	Role    string
	Reason  string
}

// Session is the active identity.
type Session struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
	token     string
}

// Provider owns the bearer credential used by the remote client.
type Provider struct {
	auth   *Auth
	logger *log.Logger
	now    func() time.Time

	emitMu  sync.Mutex
	mu      sync.RWMutex
	cur     *Session
	subs    map[int]func(Event)
	order   []int
	nextSub int
}

// NewProvider returns a signed-out provider.
func NewProvider(auth *Auth, logger *log.Logger) *Provider {
	if auth == nil {
		panic("session.NewProvider: auth is nil")
	}
	if logger == nil {
		panic("session.NewProvider: logger is nil")
	}
	return &Provider{
		auth:   auth,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func(Event)),
	}
}

// SignIn validates token and makes it the active session. Signing in again,
// even as the same user, is reported as a new session.
func (p *Provider) SignIn(token string) (Session, error) {
	claims, err := p.auth.Validate(token)
	if err != nil {
		return Session{}, err
	}
	s := Session{Subject: claims.Subject, Role: claims.Role, ExpiresAt: claims.ExpiresAt, token: token}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Lock()
	p.cur = &s
	p.mu.Unlock()

	p.logger.WithFields(log.Fields{"user": s.Subject, "role": s.Role}).Info("session.signed_in")
	p.emit(Event{Kind: SignedIn, Subject: s.Subject, Role: s.Role})
	return s, nil
}

// SignOut ends the active session. It is a no-op when signed out.
func (p *Provider) SignOut(reason string) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Lock()
	prev := p.cur
	p.cur = nil
	p.mu.Unlock()
	if prev == nil {
		return
	}

	p.logger.WithFields(log.Fields{"user": prev.Subject, "reason": reason}).Info("session.signed_out")
	p.emit(Event{Kind: SignedOut, Subject: prev.Subject, Role: prev.Role, Reason: reason})
}

// Current returns the active session.
func (p *Provider) Current() (Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cur == nil || p.expired(p.cur) {
		return Session{}, false
	}
	return *p.cur, true
}

// Token returns the bearer credential for outgoing requests.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, ok := p.Current()
	if !ok {
		return "", ErrNoSession
	}
	return s.token, nil
}

// Subscribe registers fn for session changes. Listeners run synchronously
// in registration order on the goroutine that changed the session.
func (p *Provider) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.order = append(p.order, id)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			for i, v := range p.order {
				if v == id {
					p.order = append(p.order[:i:i], p.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (p *Provider) emit(ev Event) {
	p.mu.RLock()
	fns := make([]func(Event), 0, len(p.order))
	for _, id := range p.order {
		fns = append(fns, p.subs[id])
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) expired(s *Session) bool {
	return !s.ExpiresAt.IsZero() && !p.now().Before(s.ExpiresAt)
}
