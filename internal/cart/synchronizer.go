package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/session"
	"storefront/internal/shopify"
	"storefront/internal/storage"
)

// DefaultDebounceDelay is the window within which rapid quantity updates
// coalesce into a single remote write.
const DefaultDebounceDelay = 500 * time.Millisecond

// Config holds the synchronizer's collaborators.
type Config struct {
	Remote   RemoteService
	Store    storage.Store
	Sessions session.Provider
	Logger   *zap.Logger
	// DebounceDelay overrides DefaultDebounceDelay; values <= 0 keep the default.
	DebounceDelay time.Duration
}

// pendingUpdate is the latest debounced quantity change awaiting flush.
type pendingUpdate struct {
	lineID   string
	quantity int
}

// Synchronizer is the single source of truth for the cart of one identity.
// Mutations apply optimistically to local state, then reconcile against the
// remote backend; every successful remote response replaces the local lines
// wholesale. Responses carry a sequence number so an in-flight response that
// lost the race against a newer one is discarded instead of clobbering it.
type Synchronizer struct {
	remote        RemoteService
	store         storage.Store
	sessions      session.Provider
	lg            *zap.Logger
	debounceDelay time.Duration

	debounce    debouncer
	unsubscribe func()

	mu          sync.Mutex
	items       []Line
	cartID      string
	checkoutURL string
	loading     bool
	initialized bool
	closed      bool
	current     session.Session
	pending     *pendingUpdate

	seq     uint64 // last issued sequence number
	applied uint64 // sequence of the last applied remote response
}

// New builds a Synchronizer bound to the provider's current session. Call
// Load to populate state, and Close when done.
func New(cfg Config) *Synchronizer {
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	delay := cfg.DebounceDelay
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}

	s := &Synchronizer{
		remote:        cfg.Remote,
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		lg:            lg,
		debounceDelay: delay,
		current:       cfg.Sessions.Current(),
	}
	s.unsubscribe = cfg.Sessions.Subscribe(s.onSessionChange)
	return s
}

// nextSeqLocked issues the next sequence number. Caller must hold s.mu.
func (s *Synchronizer) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// Load populates state for the current identity: it resolves the persisted
// cart ID, reads the remote cart, and falls back to an empty (virgin) cart
// when no usable remote cart exists. A persisted ID that no longer resolves
// is discarded silently. Load re-runs on every identity transition.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sess := s.sessions.Current()
	if sess.Status == session.Loading {
		s.mu.Unlock()
		return nil
	}
	s.current = sess
	s.loading = true
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	key := StorageKey(sess)
	id, err := s.store.Get(ctx, key)
	switch {
	case err == nil && id != "":
		rc, rerr := s.remote.Cart(ctx, id)
		if rerr == nil && rc != nil {
			if s.adopt(ctx, seq, sess, rc) {
				s.associate(ctx, sess)
			}
			return nil
		}
		// Stale local reference: the stored ID no longer resolves. Recovered
		// locally, never surfaced.
		if rerr != nil {
			s.lg.Info("Stored cart unreadable, discarding",
				zap.String("key", key), zap.Error(rerr))
		} else {
			s.lg.Info("Stored cart id no longer resolves, discarding",
				zap.String("key", key))
		}
		if derr := s.store.Delete(ctx, key); derr != nil {
			s.lg.Warn("Delete stale cart id", zap.Error(derr))
		}
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		s.lg.Warn("Read stored cart id", zap.String("key", key), zap.Error(err))
	}

	// Virgin state: no remote cart until the first add.
	s.mu.Lock()
	if !s.closed && seq > s.applied && StorageKey(s.current) == key {
		s.applied = seq
		s.items = nil
		s.cartID = ""
		s.checkoutURL = ""
		s.initialized = true
		s.loading = false
	}
	s.mu.Unlock()
	return nil
}

// adopt replaces local state with an authoritative remote response. It
// reports false when the response lost the race: a newer response was applied
// already, the identity changed underneath it, or the synchronizer closed.
// Adopting a cart persists its ID under the originating identity's key.
func (s *Synchronizer) adopt(ctx context.Context, seq uint64, sess session.Session, rc *shopify.Cart) bool {
	key := StorageKey(sess)

	s.mu.Lock()
	if s.closed || seq <= s.applied || StorageKey(s.current) != key {
		s.mu.Unlock()
		return false
	}
	s.applied = seq
	s.items = linesFromRemote(rc)
	s.cartID = rc.ID
	s.checkoutURL = rc.CheckoutURL
	s.initialized = true
	s.loading = false
	s.mu.Unlock()

	if rc.ID != "" {
		if err := s.store.Set(ctx, key, rc.ID); err != nil {
			s.lg.Warn("Persist cart id", zap.String("key", key), zap.Error(err))
		}
	}
	return true
}

// associate attaches the authenticated customer to the current remote cart.
// Failure is logged and swallowed; the cart stays usable anonymously.
func (s *Synchronizer) associate(ctx context.Context, sess session.Session) {
	if !sess.Authenticated() || sess.AccessToken == "" {
		return
	}
	s.mu.Lock()
	cartID := s.cartID
	s.mu.Unlock()
	if cartID == "" {
		return
	}

	rc, err := s.remote.UpdateBuyerIdentity(ctx, cartID, sess.AccessToken)
	if err != nil {
		s.lg.Warn("Associate cart with customer", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.cartID == cartID {
		s.checkoutURL = rc.CheckoutURL
	}
	s.mu.Unlock()
}

// AddItemInput carries the variant to add plus the display metadata needed to
// render the optimistic line before the remote write confirms.
type AddItemInput struct {
	VariantID    string
	Quantity     int
	ProductID    string
	ProductTitle string
	VariantTitle string
	Price        decimal.Decimal
	CurrencyCode string
	ImageURL     string
	Handle       string
}

// AddItem adds a variant to the cart. The line appears in local state
// immediately; the remote write runs before returning, and its response
// becomes the new truth. On remote failure the optimistic delta is rolled
// back and the error returned, so a failed add never leaves a ghost line.
func (s *Synchronizer) AddItem(ctx context.Context, in AddItemInput) error {
	if in.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sess := s.current
	cartID := s.cartID
	tempID := ""
	if i := s.lineIndexByVariantLocked(in.VariantID); i >= 0 {
		s.items[i].Quantity += in.Quantity
	} else {
		tempID = "tmp-" + uuid.New().String()
		s.items = append(s.items, Line{
			ID:           tempID,
			VariantID:    in.VariantID,
			ProductID:    in.ProductID,
			ProductTitle: in.ProductTitle,
			VariantTitle: in.VariantTitle,
			Price:        in.Price,
			CurrencyCode: in.CurrencyCode,
			Quantity:     in.Quantity,
			ImageURL:     in.ImageURL,
			Handle:       in.Handle,
		})
	}
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	lines := []shopify.LineInput{{MerchandiseID: in.VariantID, Quantity: in.Quantity}}

	var (
		rc  *shopify.Cart
		err error
	)
	if cartID == "" {
		var buyer *shopify.BuyerIdentity
		if sess.Authenticated() && sess.AccessToken != "" {
			buyer = &shopify.BuyerIdentity{CustomerAccessToken: sess.AccessToken}
		}
		rc, err = s.remote.CreateCart(ctx, lines, buyer)
	} else {
		rc, err = s.remote.AddLines(ctx, cartID, lines)
	}
	if err != nil {
		s.rollbackAdd(seq, in.VariantID, tempID, in.Quantity)
		return errors.Wrap(err, "add item")
	}

	s.adopt(ctx, seq, sess, rc)
	return nil
}

// rollbackAdd reverts the optimistic delta of a failed add: the temporary
// line is removed, or the increment subtracted. Skipped when a newer remote
// response already replaced local state.
func (s *Synchronizer) rollbackAdd(seq uint64, variantID, tempID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied >= seq {
		return
	}
	if tempID != "" {
		if i := s.lineIndexByIDLocked(tempID); i >= 0 {
			s.items = append(s.items[:i], s.items[i+1:]...)
		}
		return
	}
	if i := s.lineIndexByVariantLocked(variantID); i >= 0 {
		s.items[i].Quantity -= quantity
		if s.items[i].Quantity <= 0 {
			s.items = append(s.items[:i], s.items[i+1:]...)
		}
	}
}

// UpdateQuantity sets a line's quantity. Local state updates immediately; the
// remote write is debounced, so a burst of updates produces one remote call
// carrying the final value. A quantity at or below zero is a removal — a
// zero-quantity line is never stored.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, lineID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if i := s.lineIndexByIDLocked(lineID); i >= 0 {
		s.items[i].Quantity = quantity
	}
	cartID := s.cartID
	if cartID != "" {
		s.pending = &pendingUpdate{lineID: lineID, quantity: quantity}
	}
	s.mu.Unlock()

	if cartID == "" {
		// No remote cart yet; nothing to sync.
		return nil
	}
	s.debounce.schedule(s.debounceDelay, s.flushPending)
	return nil
}

// flushPending sends the latest debounced quantity update. On failure the
// optimistic state is abandoned and the cart reloaded from the remote truth;
// a partial rollback is not possible once several updates have coalesced.
func (s *Synchronizer) flushPending() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	sess := s.current
	cartID := s.cartID
	if p == nil || s.closed || cartID == "" {
		s.mu.Unlock()
		return
	}
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	ctx := context.Background()
	rc, err := s.remote.UpdateLine(ctx, cartID, p.lineID, p.quantity)
	if err != nil {
		s.lg.Warn("Sync quantity update, reloading cart", zap.Error(err))
		s.reload(ctx)
		return
	}
	s.adopt(ctx, seq, sess, rc)
}

// RemoveItem removes a line. Local state updates immediately; on remote
// failure the cart reloads from the remote truth and the error is returned.
func (s *Synchronizer) RemoveItem(ctx context.Context, lineID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sess := s.current
	if i := s.lineIndexByIDLocked(lineID); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	if s.pending != nil && s.pending.lineID == lineID {
		s.pending = nil
	}
	cartID := s.cartID
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	if cartID == "" {
		// Local-only line, nothing to remove remotely.
		return nil
	}

	rc, err := s.remote.RemoveLines(ctx, cartID, []string{lineID})
	if err != nil {
		s.lg.Warn("Sync line removal, reloading cart", zap.Error(err))
		s.reload(ctx)
		return errors.Wrap(err, "remove item")
	}

	s.adopt(ctx, seq, sess, rc)
	return nil
}

// Clear resets local state to an empty cart and deletes the persisted cart
// ID. The remote cart resource is abandoned, not deleted; the next add
// creates a fresh one. Clear is idempotent.
func (s *Synchronizer) Clear(ctx context.Context) error {
	s.debounce.cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sess := s.current
	s.items = nil
	s.cartID = ""
	s.checkoutURL = ""
	s.pending = nil
	s.initialized = true
	s.loading = false
	// Claim the latest sequence so an in-flight response cannot resurrect
	// the abandoned cart.
	s.applied = s.nextSeqLocked()
	s.mu.Unlock()

	if err := s.store.Delete(ctx, StorageKey(sess)); err != nil {
		return errors.Wrap(err, "delete stored cart id")
	}
	return nil
}

// Snapshot returns the current cart state. Totals are computed from the
// lines on every call.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	items := make([]Line, len(s.items))
	copy(items, s.items)
	snap := Snapshot{
		Items:       items,
		CheckoutURL: s.checkoutURL,
		Loading:     s.loading,
	}
	s.mu.Unlock()

	total := decimal.Zero
	for _, line := range items {
		snap.TotalItems += line.Quantity
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	snap.TotalPrice = total
	return snap
}

// Close cancels the debounce timer and unsubscribes from session changes.
// Commands fail with ErrClosed afterwards.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.unsubscribe()
	s.debounce.stop()
}

// onSessionChange reloads state when the identity partition changes and
// associates the cart on an anonymous-to-authenticated transition of the
// same partition. Line items never carry over between identities.
func (s *Synchronizer) onSessionChange(sess session.Session) {
	if sess.Status == session.Loading {
		return
	}
	s.mu.Lock()
	prev := s.current
	cartID := s.cartID
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	ctx := context.Background()
	if StorageKey(sess) != StorageKey(prev) {
		s.debounce.cancel()
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		if err := s.Load(ctx); err != nil {
			s.lg.Error("Reload cart after identity change", zap.Error(err))
		}
		return
	}
	if sess.Authenticated() && !prev.Authenticated() && cartID != "" {
		s.mu.Lock()
		s.current = sess
		s.mu.Unlock()
		s.associate(ctx, sess)
	}
}

// reload forces a full reload from the remote truth, used after a failed
// update or removal where optimistic state cannot be rolled back piecemeal.
func (s *Synchronizer) reload(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		s.lg.Error("Reload cart", zap.Error(err))
	}
}

func (s *Synchronizer) lineIndexByIDLocked(lineID string) int {
	for i := range s.items {
		if s.items[i].ID == lineID {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) lineIndexByVariantLocked(variantID string) int {
	for i := range s.items {
		if s.items[i].VariantID == variantID {
			return i
		}
	}
	return -1
}
