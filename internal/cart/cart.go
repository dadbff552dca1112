// Package cart owns the shopping cart state and keeps it consistent with the
// remote commerce backend: every mutation applies optimistically to local
// state first, then reconciles against the backend's authoritative response.
package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"storefront/internal/shopify"
)

// Sentinel errors returned by synchronizer commands.
var (
	ErrClosed          = errors.New("cart: synchronizer closed")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than 0")
)

// Line is one product variant's presence in the cart. ID is the remote line
// identifier; freshly added lines carry a temporary "tmp-" ID until the
// remote write confirms.
type Line struct {
	ID           string          `json:"id"`
	VariantID    string          `json:"variantId"`
	ProductID    string          `json:"productId"`
	ProductTitle string          `json:"productTitle"`
	VariantTitle string          `json:"variantTitle"`
	Price        decimal.Decimal `json:"price"`
	CurrencyCode string          `json:"currencyCode"`
	Quantity     int             `json:"quantity"`
	ImageURL     string          `json:"image,omitempty"`
	Handle       string          `json:"handle"`
}

// Snapshot is an immutable view of the cart state. Totals are recomputed
// from the lines on every call, never cached.
type Snapshot struct {
	Items       []Line          `json:"items"`
	TotalItems  int             `json:"totalItems"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	CheckoutURL string          `json:"checkoutUrl,omitempty"`
	Loading     bool            `json:"loading"`
}

// RemoteService is the remote cart backend consumed by the synchronizer.
// Cart returns (nil, nil) when the ID no longer resolves.
type RemoteService interface {
	CreateCart(ctx context.Context, lines []shopify.LineInput, buyer *shopify.BuyerIdentity) (*shopify.Cart, error)
	Cart(ctx context.Context, id string) (*shopify.Cart, error)
	AddLines(ctx context.Context, id string, lines []shopify.LineInput) (*shopify.Cart, error)
	UpdateLine(ctx context.Context, id, lineID string, quantity int) (*shopify.Cart, error)
	RemoveLines(ctx context.Context, id string, lineIDs []string) (*shopify.Cart, error)
	UpdateBuyerIdentity(ctx context.Context, id, customerAccessToken string) (*shopify.Cart, error)
}

var _ RemoteService = (*shopify.Client)(nil)

// linesFromRemote converts the backend's cart lines into display lines,
// preserving response order.
func linesFromRemote(rc *shopify.Cart) []Line {
	lines := make([]Line, 0, len(rc.Lines))
	for _, rl := range rc.Lines {
		lines = append(lines, Line{
			ID:           rl.ID,
			VariantID:    rl.MerchandiseID,
			ProductID:    rl.ProductID,
			ProductTitle: rl.ProductTitle,
			VariantTitle: rl.VariantTitle,
			Price:        rl.Price.Amount,
			CurrencyCode: rl.Price.CurrencyCode,
			Quantity:     rl.Quantity,
			ImageURL:     rl.ImageURL,
			Handle:       rl.Handle,
		})
	}
	return lines
}
