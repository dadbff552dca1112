package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront/internal/session"
	"storefront/internal/storage"
)

// managed is one identity's synchronizer plus its one-time initial load.
// Every caller passes through the once, so nobody can issue commands against
// a synchronizer whose persisted cart has not been resolved yet.
type managed struct {
	s    *Synchronizer
	once sync.Once
	err  error
}

// Manager hands out one Synchronizer per identity partition. Synchronizers
// are created lazily on first use and loaded before being returned, so two
// identities can never observe each other's line items, and a command can
// never race the initial load into overwriting a persisted cart.
type Manager struct {
	remote RemoteService
	store  storage.Store
	lg     *zap.Logger
	delay  time.Duration

	mu    sync.Mutex
	syncs map[string]*managed
}

// NewManager builds a Manager. delay <= 0 keeps DefaultDebounceDelay.
func NewManager(remote RemoteService, store storage.Store, lg *zap.Logger, delay time.Duration) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Manager{
		remote: remote,
		store:  store,
		lg:     lg,
		delay:  delay,
		syncs:  make(map[string]*managed),
	}
}

// ForSession returns the synchronizer for the session's identity partition,
// creating it on first use. All callers, including concurrent ones during
// creation, block until the initial Load has finished.
func (m *Manager) ForSession(ctx context.Context, sess session.Session) (*Synchronizer, error) {
	key := StorageKey(sess)

	m.mu.Lock()
	e, ok := m.syncs[key]
	if !ok {
		e = &managed{s: New(Config{
			Remote:        m.remote,
			Store:         m.store,
			Sessions:      session.NewStatic(sess),
			Logger:        m.lg.With(zap.String("cart_key", key)),
			DebounceDelay: m.delay,
		})}
		m.syncs[key] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		e.err = e.s.Load(ctx)
	})
	if e.err != nil {
		// Drop the failed entry so a later request retries the load.
		m.mu.Lock()
		if m.syncs[key] == e {
			delete(m.syncs, key)
		}
		m.mu.Unlock()
		e.s.Close()
		return nil, e.err
	}
	return e.s, nil
}

// Evict closes and drops the synchronizer of one identity, e.g. on logout.
func (m *Manager) Evict(sess session.Session) {
	key := StorageKey(sess)

	m.mu.Lock()
	e, ok := m.syncs[key]
	delete(m.syncs, key)
	m.mu.Unlock()

	if ok {
		e.s.Close()
	}
}

// Close shuts down every synchronizer.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.syncs))
	for _, e := range m.syncs {
		entries = append(entries, e)
	}
	m.syncs = make(map[string]*managed)
	m.mu.Unlock()

	for _, e := range entries {
		e.s.Close()
	}
}
