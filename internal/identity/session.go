package identity

import (
	"context"
	"errors"
	"sync"

	"hubtrack/internal/domain"
)

// Provider signs a principal in and out.
type Provider interface {
	SignIn(ctx context.Context) (domain.Principal, error)
	SignOut(ctx context.Context) error
}

// Session holds the current principal and notifies listeners when it changes.
type Session struct {
	mu        sync.Mutex
	current   *domain.Principal
	nextID    int
	listeners map[int]func(*domain.Principal)
}

// Current returns the signed-in principal, if any.
func (s *Session) Current() (domain.Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Principal{}, false
	}
	return *s.current, true
}

// Set replaces the current principal; nil signs out. Listeners run only
// when the principal actually changed.
func (s *Session) Set(p *domain.Principal) {
	s.mu.Lock()
	if samePrincipal(s.current, p) {
		s.mu.Unlock()
		return
	}
	if p != nil {
		cp := *p
		p = &cp
	}
	s.current = p
	fns := make([]func(*domain.Principal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// OnAuthStateChange registers fn. It is called once right away with the
// current state and again on every change. The returned func unregisters it.
func (s *Session) OnAuthStateChange(fn func(*domain.Principal)) func() {
	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = map[int]func(*domain.Principal){}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	cur := s.current
	s.mu.Unlock()

	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func samePrincipal(a, b *domain.Principal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// TokenProvider signs in by verifying the token returned by Token.
type TokenProvider struct {
	Verifier Verifier
	Token    func(ctx context.Context) (string, error)
	Session  *Session
}

var _ Provider = (*TokenProvider)(nil)

func (p *TokenProvider) SignIn(ctx context.Context) (domain.Principal, error) {
	if p.Verifier == nil || p.Token == nil {
		return domain.Principal{}, errors.New("identity provider not configured")
	}
	token, err := p.Token(ctx)
	if err != nil {
		return domain.Principal{}, err
	}
	principal, err := p.Verifier.Verify(ctx, token)
	if err != nil {
		return domain.Principal{}, err
	}
	if p.Session != nil {
		p.Session.Set(&principal)
	}
	return principal, nil
}

func (p *TokenProvider) SignOut(ctx context.Context) error {
	if p.Session != nil {
		p.Session.Set(nil)
	}
	return nil
}

// StaticToken returns a Token func that always yields token.
func StaticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("no identity token available; run hubtrack login")
		}
		return token, nil
	}
}
