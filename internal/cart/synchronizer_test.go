package cart

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storefront/internal/session"
	"storefront/internal/shopify"
	"storefront/internal/storage"
)

// --- Fake remote cart service ---

var errRemote = errors.New("remote unavailable")

// fakeRemote is a scriptable in-memory stand-in for the remote cart backend.
// It keeps one cart at a time and can be told to fail specific operations.
type fakeRemote struct {
	mu sync.Mutex

	prices      map[string]decimal.Decimal
	lines       []shopify.Line
	cartID      string
	checkoutURL string
	buyerToken  string
	nextLine    int

	failCreate    bool
	failGet       bool
	failAdd       bool
	failUpdate    bool
	failRemove    bool
	failAssociate bool

	createCalls    int
	getCalls       int
	addCalls       int
	updateCalls    int
	removeCalls    int
	associateCalls int

	// writeStarted, when non-nil, receives one value as a cart write begins.
	writeStarted chan struct{}
	// writeProceed, when non-nil, blocks cart writes until closed.
	writeProceed chan struct{}
	// readStarted and readProceed gate Cart reads the same way.
	readStarted chan struct{}
	readProceed chan struct{}
	// updateDone receives one value per completed UpdateLine call.
	updateDone chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		prices:      make(map[string]decimal.Decimal),
		checkoutURL: "https://shop.example/checkout/abc",
		updateDone:  make(chan struct{}, 16),
	}
}

func (f *fakeRemote) priceOf(variantID string) decimal.Decimal {
	if p, ok := f.prices[variantID]; ok {
		return p
	}
	return decimal.NewFromInt(10)
}

// snapshotLocked returns a deep copy of the remote truth. Caller holds f.mu.
func (f *fakeRemote) snapshotLocked() *shopify.Cart {
	lines := make([]shopify.Line, len(f.lines))
	copy(lines, f.lines)

	qty := 0
	total := decimal.Zero
	for _, l := range lines {
		qty += l.Quantity
		total = total.Add(l.Price.Amount.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return &shopify.Cart{
		ID:            f.cartID,
		CheckoutURL:   f.checkoutURL,
		TotalQuantity: qty,
		Total:         shopify.Money{Amount: total, CurrencyCode: "USD"},
		Lines:         lines,
	}
}

func (f *fakeRemote) applyLinesLocked(inputs []shopify.LineInput) {
	for _, in := range inputs {
		found := false
		for i := range f.lines {
			if f.lines[i].MerchandiseID == in.MerchandiseID {
				f.lines[i].Quantity += in.Quantity
				found = true
				break
			}
		}
		if !found {
			f.nextLine++
			f.lines = append(f.lines, shopify.Line{
				ID:            fmt.Sprintf("line-%d", f.nextLine),
				Quantity:      in.Quantity,
				MerchandiseID: in.MerchandiseID,
				ProductID:     "prod-" + in.MerchandiseID,
				ProductTitle:  "Product " + in.MerchandiseID,
				VariantTitle:  "Default",
				Handle:        "product-" + in.MerchandiseID,
				Price:         shopify.Money{Amount: f.priceOf(in.MerchandiseID), CurrencyCode: "USD"},
			})
		}
	}
}

func (f *fakeRemote) gateWrite() {
	if f.writeStarted != nil {
		f.writeStarted <- struct{}{}
	}
	if f.writeProceed != nil {
		<-f.writeProceed
	}
}

func (f *fakeRemote) CreateCart(_ context.Context, lines []shopify.LineInput, buyer *shopify.BuyerIdentity) (*shopify.Cart, error) {
	f.gateWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate {
		return nil, errRemote
	}
	f.cartID = "gid://shop/Cart/1"
	f.lines = nil
	if buyer != nil {
		f.buyerToken = buyer.CustomerAccessToken
	}
	f.applyLinesLocked(lines)
	return f.snapshotLocked(), nil
}

func (f *fakeRemote) Cart(_ context.Context, id string) (*shopify.Cart, error) {
	if f.readStarted != nil {
		f.readStarted <- struct{}{}
	}
	if f.readProceed != nil {
		<-f.readProceed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet {
		return nil, errRemote
	}
	if f.cartID == "" || id != f.cartID {
		return nil, nil
	}
	return f.snapshotLocked(), nil
}

func (f *fakeRemote) AddLines(_ context.Context, id string, lines []shopify.LineInput) (*shopify.Cart, error) {
	f.gateWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.failAdd {
		return nil, errRemote
	}
	f.applyLinesLocked(lines)
	return f.snapshotLocked(), nil
}

func (f *fakeRemote) UpdateLine(_ context.Context, id, lineID string, quantity int) (*shopify.Cart, error) {
	f.mu.Lock()
	f.updateCalls++
	fail := f.failUpdate
	if !fail {
		for i := range f.lines {
			if f.lines[i].ID == lineID {
				f.lines[i].Quantity = quantity
				break
			}
		}
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.updateDone <- struct{}{}
	if fail {
		return nil, errRemote
	}
	return snap, nil
}

func (f *fakeRemote) RemoveLines(_ context.Context, id string, lineIDs []string) (*shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	if f.failRemove {
		return nil, errRemote
	}
	drop := make(map[string]struct{}, len(lineIDs))
	for _, lid := range lineIDs {
		drop[lid] = struct{}{}
	}
	kept := f.lines[:0]
	for _, l := range f.lines {
		if _, ok := drop[l.ID]; !ok {
			kept = append(kept, l)
		}
	}
	f.lines = kept
	return f.snapshotLocked(), nil
}

func (f *fakeRemote) UpdateBuyerIdentity(_ context.Context, id, token string) (*shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associateCalls++
	if f.failAssociate {
		return nil, errRemote
	}
	f.buyerToken = token
	f.checkoutURL = "https://shop.example/checkout/associated"
	return f.snapshotLocked(), nil
}

func (f *fakeRemote) calls() (create, get, add, update, remove, associate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.getCalls, f.addCalls, f.updateCalls, f.removeCalls, f.associateCalls
}

func (f *fakeRemote) remoteQuantity(lineID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lines {
		if l.ID == lineID {
			return l.Quantity
		}
	}
	return 0
}

// --- Helpers ---

var anonymous = session.Session{Status: session.Unauthenticated}

func authenticated(userID string) session.Session {
	return session.Session{
		Status:      session.Authenticated,
		UserID:      userID,
		AccessToken: "token-" + userID,
	}
}

func newTestCart(t *testing.T, sess session.Session) (*Synchronizer, *fakeRemote, *storage.Memory, *session.Memory) {
	t.Helper()
	remote := newFakeRemote()
	store := storage.NewMemory()
	sessions := session.NewMemory(sess)
	s := New(Config{
		Remote:        remote,
		Store:         store,
		Sessions:      sessions,
		Logger:        zaptest.NewLogger(t),
		DebounceDelay: 25 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s, remote, store, sessions
}

func addInput(variantID string, quantity int, price string) AddItemInput {
	return AddItemInput{
		VariantID:    variantID,
		Quantity:     quantity,
		ProductID:    "prod-" + variantID,
		ProductTitle: "Product " + variantID,
		VariantTitle: "Default",
		Price:        decimal.RequireFromString(price),
		CurrencyCode: "USD",
		Handle:       "product-" + variantID,
	}
}

// --- Tests ---

func TestAddItem_CreatesCartAndPersists(t *testing.T) {
	s, remote, store, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))

	remote.writeStarted = make(chan struct{}, 1)
	remote.writeProceed = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- s.AddItem(context.Background(), addInput("v1", 2, "10.00"))
	}()

	// The optimistic line is visible while the remote write is in flight.
	<-remote.writeStarted
	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Contains(t, snap.Items[0].ID, "tmp-")
	assert.Equal(t, 2, snap.Items[0].Quantity)

	close(remote.writeProceed)
	require.NoError(t, <-done)

	// Authoritative state replaced the optimistic line, cart ID persisted.
	snap = s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "line-1", snap.Items[0].ID)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, "https://shop.example/checkout/abc", snap.CheckoutURL)

	id, err := store.Get(context.Background(), "cart-guest")
	require.NoError(t, err)
	assert.Equal(t, "gid://shop/Cart/1", id)
}

func TestAddItem_RollbackOnFailure(t *testing.T) {
	s, remote, store, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	remote.failCreate = true

	err := s.AddItem(context.Background(), addInput("v1", 1, "10.00"))
	require.Error(t, err)

	// No ghost line survives a failed add, and nothing was persisted.
	assert.Empty(t, s.Snapshot().Items)
	_, err = store.Get(context.Background(), "cart-guest")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddItem_RollbackOfIncrement(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	remote.failAdd = true
	err := s.AddItem(context.Background(), addInput("v1", 3, "10.00"))
	require.Error(t, err)

	// The failed increment is reverted, not the whole line.
	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
}

func TestAddItem_RejectsNonPositiveQuantity(t *testing.T) {
	s, _, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))

	err := s.AddItem(context.Background(), addInput("v1", 0, "10.00"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAddItem_AuthenticatedCreatesWithBuyer(t *testing.T) {
	s, remote, store, _ := newTestCart(t, authenticated("u1"))
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 1, "10.00")))

	remote.mu.Lock()
	buyer := remote.buyerToken
	remote.mu.Unlock()
	assert.Equal(t, "token-u1", buyer)

	id, err := store.Get(context.Background(), "cart-u1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestUpdateQuantity_DebounceCoalesces(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	ctx := context.Background()
	require.NoError(t, s.UpdateQuantity(ctx, "line-1", 5))
	require.NoError(t, s.UpdateQuantity(ctx, "line-1", 4))
	require.NoError(t, s.UpdateQuantity(ctx, "line-1", 3))

	// The optimistic value is visible immediately.
	assert.Equal(t, 3, s.Snapshot().Items[0].Quantity)

	select {
	case <-remote.updateDone:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced update never fired")
	}

	// Exactly one remote write, carrying the final value.
	_, _, _, updates, _, _ := remote.calls()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 3, remote.remoteQuantity("line-1"))

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Items) == 1 && snap.Items[0].Quantity == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	require.NoError(t, s.UpdateQuantity(context.Background(), "line-1", 0))

	// A non-positive quantity is a removal, never a stored zero line.
	assert.Empty(t, s.Snapshot().Items)
	_, _, _, updates, removes, _ := remote.calls()
	assert.Equal(t, 0, updates)
	assert.Equal(t, 1, removes)
}

func TestUpdateQuantity_FailureReloadsFromRemote(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	remote.mu.Lock()
	remote.failUpdate = true
	remote.mu.Unlock()

	require.NoError(t, s.UpdateQuantity(context.Background(), "line-1", 7))
	assert.Equal(t, 7, s.Snapshot().Items[0].Quantity)

	select {
	case <-remote.updateDone:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced update never fired")
	}

	// Optimistic state is abandoned; the cart snaps back to the remote truth.
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Items) == 1 && snap.Items[0].Quantity == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoveItem(t *testing.T) {
	s, _, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 1, "10.00")))
	require.NoError(t, s.AddItem(context.Background(), addInput("v2", 1, "5.00")))

	require.NoError(t, s.RemoveItem(context.Background(), "line-1"))

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "line-2", snap.Items[0].ID)
}

func TestRemoveItem_FailureReloadsFromRemote(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	remote.failRemove = true
	err := s.RemoveItem(context.Background(), "line-1")
	require.Error(t, err)

	// The removed line is restored from the remote truth.
	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
}

func TestClear_Idempotent(t *testing.T) {
	s, _, store, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	require.NoError(t, s.Clear(context.Background()))
	require.NoError(t, s.Clear(context.Background()))

	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.CheckoutURL)
	assert.Equal(t, 0, snap.TotalItems)

	_, err := store.Get(context.Background(), "cart-guest")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClear_NewCartCreatedOnNextAdd(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 1, "10.00")))
	require.NoError(t, s.Clear(context.Background()))

	require.NoError(t, s.AddItem(context.Background(), addInput("v2", 1, "5.00")))

	// The old remote cart was abandoned; a fresh one is created lazily.
	creates, _, _, _, _, _ := remote.calls()
	assert.Equal(t, 2, creates)
}

func TestLoad_StaleCartIDDiscarded(t *testing.T) {
	s, _, store, _ := newTestCart(t, anonymous)
	require.NoError(t, store.Set(context.Background(), "cart-guest", "gid://shop/Cart/expired"))

	require.NoError(t, s.Load(context.Background()))

	// Expired reference: empty cart, key removed, no error surfaced.
	assert.Empty(t, s.Snapshot().Items)
	_, err := store.Get(context.Background(), "cart-guest")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoad_RemoteErrorTreatedAsStale(t *testing.T) {
	s, remote, store, _ := newTestCart(t, anonymous)
	require.NoError(t, store.Set(context.Background(), "cart-guest", "gid://shop/Cart/1"))
	remote.failGet = true

	require.NoError(t, s.Load(context.Background()))

	assert.Empty(t, s.Snapshot().Items)
	_, err := store.Get(context.Background(), "cart-guest")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoad_AdoptsPersistedCart(t *testing.T) {
	s, remote, store, _ := newTestCart(t, anonymous)

	// Seed the remote with an existing cart and persist its ID.
	_, err := remote.CreateCart(context.Background(), []shopify.LineInput{{MerchandiseID: "v1", Quantity: 3}}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "cart-guest", "gid://shop/Cart/1"))

	require.NoError(t, s.Load(context.Background()))

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 3, snap.Items[0].Quantity)
	assert.Equal(t, 3, snap.TotalItems)
}

func TestIdentityPartition(t *testing.T) {
	s, remote, store, sessions := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))
	require.Len(t, s.Snapshot().Items, 1)

	// Login: state reloads under the new identity's partition, which has no
	// cart. Nothing carries over from the anonymous cart.
	sessions.Set(authenticated("u1"))
	assert.Empty(t, s.Snapshot().Items)

	// The anonymous cart ID is still persisted under its own key.
	id, err := store.Get(context.Background(), "cart-guest")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Logout: the anonymous cart comes back from its partition.
	sessions.Set(anonymous)
	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)

	_, gets, _, _, _, _ := remote.calls()
	assert.GreaterOrEqual(t, gets, 1)
}

func TestLogin_AssociatesExistingCart(t *testing.T) {
	s, remote, store, sessions := newTestCart(t, anonymous)

	// The user already has a cart persisted under their own identity.
	_, err := remote.CreateCart(context.Background(), []shopify.LineInput{{MerchandiseID: "v1", Quantity: 1}}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "cart-u1", "gid://shop/Cart/1"))
	require.NoError(t, s.Load(context.Background()))

	sessions.Set(authenticated("u1"))

	_, _, _, _, _, associates := remote.calls()
	assert.Equal(t, 1, associates)
	assert.Equal(t, "https://shop.example/checkout/associated", s.Snapshot().CheckoutURL)
}

func TestLogin_AssociationFailureIsNonFatal(t *testing.T) {
	s, remote, store, sessions := newTestCart(t, anonymous)

	_, err := remote.CreateCart(context.Background(), []shopify.LineInput{{MerchandiseID: "v1", Quantity: 1}}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "cart-u1", "gid://shop/Cart/1"))
	remote.failAssociate = true
	require.NoError(t, s.Load(context.Background()))

	sessions.Set(authenticated("u1"))

	// The cart is still usable anonymously.
	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "https://shop.example/checkout/abc", snap.CheckoutURL)
}

func TestSnapshot_TotalsRecomputed(t *testing.T) {
	s, remote, _, _ := newTestCart(t, anonymous)
	remote.prices["v1"] = decimal.RequireFromString("10.00")
	remote.prices["v2"] = decimal.RequireFromString("5.50")
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))
	require.NoError(t, s.AddItem(context.Background(), addInput("v2", 3, "5.50")))

	snap := s.Snapshot()
	assert.Equal(t, 5, snap.TotalItems)
	assert.True(t, decimal.RequireFromString("36.50").Equal(snap.TotalPrice),
		"total price = %s", snap.TotalPrice)

	// Totals follow every optimistic change.
	require.NoError(t, s.UpdateQuantity(context.Background(), "line-1", 1))
	snap = s.Snapshot()
	assert.Equal(t, 4, snap.TotalItems)
	assert.True(t, decimal.RequireFromString("26.50").Equal(snap.TotalPrice),
		"total price = %s", snap.TotalPrice)
}

func TestAdopt_DiscardsStaleResponse(t *testing.T) {
	s, _, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.AddItem(context.Background(), addInput("v1", 2, "10.00")))

	stale := &shopify.Cart{ID: "gid://shop/Cart/old", Lines: nil}

	// A response tagged with an already-superseded sequence is dropped.
	applied := s.adopt(context.Background(), 0, anonymous, stale)
	assert.False(t, applied)

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
}

func TestCommandsAfterClose(t *testing.T) {
	s, _, _, _ := newTestCart(t, anonymous)
	require.NoError(t, s.Load(context.Background()))
	s.Close()

	ctx := context.Background()
	assert.ErrorIs(t, s.AddItem(ctx, addInput("v1", 1, "10.00")), ErrClosed)
	assert.ErrorIs(t, s.UpdateQuantity(ctx, "line-1", 2), ErrClosed)
	assert.ErrorIs(t, s.RemoveItem(ctx, "line-1"), ErrClosed)
	assert.ErrorIs(t, s.Clear(ctx), ErrClosed)
	assert.ErrorIs(t, s.Load(ctx), ErrClosed)
}
