// Package session exposes the current user identity to the rest of the
// storefront. The cart synchronizer subscribes to identity transitions so it
// can reload its state whenever the user logs in or out.
package session

import "sync"

// Status describes the authentication state of the current session.
type Status int

const (
	// Unauthenticated is the anonymous/guest state.
	Unauthenticated Status = iota
	// Loading means the identity is not known yet; consumers should defer
	// identity-dependent work until the next transition.
	Loading
	// Authenticated means a stable user ID and access credential are available.
	Authenticated
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is a point-in-time view of the user identity. UserID and
// AccessToken are only meaningful when Status is Authenticated.
type Session struct {
	Status      Status
	UserID      string
	AccessToken string
}

// Authenticated reports whether the session carries a usable customer identity.
func (s Session) Authenticated() bool {
	return s.Status == Authenticated && s.UserID != ""
}

// Provider supplies the current session and notifies subscribers about
// transitions between identities.
type Provider interface {
	// Current returns the session as of now.
	Current() Session
	// Subscribe registers fn to be called on every session change. The
	// returned cancel function removes the subscription; it is safe to call
	// more than once.
	Subscribe(fn func(Session)) (cancel func())
}

// Static is a Provider with a fixed session that never changes. The cart
// manager binds one Static provider per request identity.
type Static struct {
	s Session
}

// NewStatic returns a Provider pinned to s.
func NewStatic(s Session) *Static {
	return &Static{s: s}
}

// Current implements Provider.
func (p *Static) Current() Session { return p.s }

// Subscribe implements Provider. A static session never changes, so the
// subscription is inert.
func (p *Static) Subscribe(func(Session)) (cancel func()) {
	return func() {}
}

// Memory is a mutable Provider. Set replaces the current session and notifies
// all subscribers synchronously. It models the login/logout transitions a
// browser session provider would emit.
type Memory struct {
	mu      sync.Mutex
	current Session
	nextID  int
	subs    map[int]func(Session)
}

// NewMemory returns a Memory provider starting in the given session.
func NewMemory(initial Session) *Memory {
	return &Memory{
		current: initial,
		subs:    make(map[int]func(Session)),
	}
}

// Current implements Provider.
func (p *Memory) Current() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Set replaces the current session and notifies subscribers. Callbacks run on
// the caller's goroutine, outside the provider lock.
func (p *Memory) Set(s Session) {
	p.mu.Lock()
	p.current = s
	fns := make([]func(Session), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe implements Provider.
func (p *Memory) Subscribe(fn func(Session)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}
