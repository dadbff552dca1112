package shopify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Money is an amount in a specific currency. The backend transports amounts
// as decimal strings; they are never handled as floats.
type Money struct {
	Amount       decimal.Decimal
	CurrencyCode string
}

// Line is one cart line as reported by the backend, with the denormalized
// variant and product fields the storefront displays.
type Line struct {
	ID            string
	Quantity      int
	MerchandiseID string
	ProductID     string
	ProductTitle  string
	VariantTitle  string
	Handle        string
	Price         Money
	ImageURL      string
}

// Cart is the remote cart resource. Lines preserve the response order.
type Cart struct {
	ID            string
	CheckoutURL   string
	TotalQuantity int
	Subtotal      Money
	Total         Money
	Lines         []Line
}

// LineInput identifies a variant and quantity to add to a cart.
type LineInput struct {
	MerchandiseID string
	Quantity      int
}

// BuyerIdentity associates a cart with an authenticated customer.
type BuyerIdentity struct {
	CustomerAccessToken string
}

// --- Wire types (GraphQL response shapes) ---

type wireMoney struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode"`
}

type wireCart struct {
	ID            string `json:"id"`
	CheckoutURL   string `json:"checkoutUrl"`
	TotalQuantity int    `json:"totalQuantity"`
	Cost          struct {
		SubtotalAmount wireMoney `json:"subtotalAmount"`
		TotalAmount    wireMoney `json:"totalAmount"`
	} `json:"cost"`
	Lines struct {
		Edges []struct {
			Node struct {
				ID          string `json:"id"`
				Quantity    int    `json:"quantity"`
				Merchandise struct {
					ID      string `json:"id"`
					Title   string `json:"title"`
					Product struct {
						ID     string `json:"id"`
						Title  string `json:"title"`
						Handle string `json:"handle"`
					} `json:"product"`
					Image *struct {
						URL string `json:"url"`
					} `json:"image"`
					Price wireMoney `json:"price"`
				} `json:"merchandise"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"lines"`
}

func (w *wireCart) toCart() *Cart {
	c := &Cart{
		ID:            w.ID,
		CheckoutURL:   w.CheckoutURL,
		TotalQuantity: w.TotalQuantity,
		Subtotal:      Money(w.Cost.SubtotalAmount),
		Total:         Money(w.Cost.TotalAmount),
		Lines:         make([]Line, 0, len(w.Lines.Edges)),
	}
	for _, edge := range w.Lines.Edges {
		n := edge.Node
		line := Line{
			ID:            n.ID,
			Quantity:      n.Quantity,
			MerchandiseID: n.Merchandise.ID,
			ProductID:     n.Merchandise.Product.ID,
			ProductTitle:  n.Merchandise.Product.Title,
			VariantTitle:  n.Merchandise.Title,
			Handle:        n.Merchandise.Product.Handle,
			Price:         Money(n.Merchandise.Price),
		}
		if n.Merchandise.Image != nil {
			line.ImageURL = n.Merchandise.Image.URL
		}
		c.Lines = append(c.Lines, line)
	}
	return c
}

func encodeLineInputs(e *jx.Encoder, lines []LineInput) {
	e.Arr(func(e *jx.Encoder) {
		for _, line := range lines {
			e.Obj(func(e *jx.Encoder) {
				e.Field("merchandiseId", func(e *jx.Encoder) { e.Str(line.MerchandiseID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(line.Quantity) })
			})
		}
	})
}

// CreateCart creates a new remote cart seeded with lines. When buyer is
// non-nil the cart is created already associated with the customer.
func (c *Client) CreateCart(ctx context.Context, lines []LineInput, buyer *BuyerIdentity) (*Cart, error) {
	var out struct {
		CartCreate struct {
			Cart       *wireCart       `json:"cart"`
			UserErrors []wireUserError `json:"userErrors"`
		} `json:"cartCreate"`
	}
	err := c.do(ctx, createCartMutation, func(e *jx.Encoder) {
		e.Field("input", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("lines", func(e *jx.Encoder) { encodeLineInputs(e, lines) })
				if buyer != nil {
					e.Field("buyerIdentity", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("customerAccessToken", func(e *jx.Encoder) {
								e.Str(buyer.CustomerAccessToken)
							})
						})
					})
				}
			})
		})
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "cartCreate")
	}
	if err := firstUserError(out.CartCreate.UserErrors); err != nil {
		return nil, err
	}
	if out.CartCreate.Cart == nil {
		return nil, errors.New("cartCreate: empty cart in response")
	}
	return out.CartCreate.Cart.toCart(), nil
}

// Cart fetches a cart by ID. It returns (nil, nil) when the ID no longer
// resolves, which callers treat as a stale local reference.
func (c *Client) Cart(ctx context.Context, id string) (*Cart, error) {
	var out struct {
		Cart *wireCart `json:"cart"`
	}
	err := c.do(ctx, getCartQuery, func(e *jx.Encoder) {
		e.Field("cartId", func(e *jx.Encoder) { e.Str(id) })
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "cart")
	}
	if out.Cart == nil {
		return nil, nil
	}
	return out.Cart.toCart(), nil
}

// AddLines adds lines to an existing cart.
func (c *Client) AddLines(ctx context.Context, id string, lines []LineInput) (*Cart, error) {
	var out struct {
		CartLinesAdd struct {
			Cart       *wireCart       `json:"cart"`
			UserErrors []wireUserError `json:"userErrors"`
		} `json:"cartLinesAdd"`
	}
	err := c.do(ctx, addLinesMutation, func(e *jx.Encoder) {
		e.Field("cartId", func(e *jx.Encoder) { e.Str(id) })
		e.Field("lines", func(e *jx.Encoder) { encodeLineInputs(e, lines) })
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "cartLinesAdd")
	}
	if err := firstUserError(out.CartLinesAdd.UserErrors); err != nil {
		return nil, err
	}
	if out.CartLinesAdd.Cart == nil {
		return nil, errors.New("cartLinesAdd: empty cart in response")
	}
	return out.CartLinesAdd.Cart.toCart(), nil
}

// UpdateLine sets the quantity of a single cart line.
func (c *Client) UpdateLine(ctx context.Context, id, lineID string, quantity int) (*Cart, error) {
	var out struct {
		CartLinesUpdate struct {
			Cart       *wireCart       `json:"cart"`
			UserErrors []wireUserError `json:"userErrors"`
		} `json:"cartLinesUpdate"`
	}
	err := c.do(ctx, updateLinesMutation, func(e *jx.Encoder) {
		e.Field("cartId", func(e *jx.Encoder) { e.Str(id) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(lineID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(quantity) })
				})
			})
		})
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "cartLinesUpdate")
	}
	if err := firstUserError(out.CartLinesUpdate.UserErrors); err != nil {
		return nil, err
	}
	if out.CartLinesUpdate.Cart == nil {
		return nil, errors.New("cartLinesUpdate: empty cart in response")
	}
	return out.CartLinesUpdate.Cart.toCart(), nil
}

// RemoveLines removes the given lines from a cart.
func (c *Client) RemoveLines(ctx context.Context, id string, lineIDs []string) (*Cart, error) {
	var out struct {
		CartLinesRemove struct {
			Cart       *wireCart       `json:"cart"`
			UserErrors []wireUserError `json:"userErrors"`
		} `json:"cartLinesRemove"`
	}
	err := c.do(ctx, removeLinesMutation, func(e *jx.Encoder) {
		e.Field("cartId", func(e *jx.Encoder) { e.Str(id) })
		e.Field("lineIds", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, lineID := range lineIDs {
					e.Str(lineID)
				}
			})
		})
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "cartLinesRemove")
	}
	if err := firstUserError(out.CartLinesRemove.UserErrors); err != nil {
		return nil, err
	}
	if out.CartLinesRemove.Cart == nil {
		return nil, errors.New("cartLinesRemove: empty cart in response")
	}
	return out.CartLinesRemove.Cart.toCart(), nil
}

// UpdateBuyerIdentity attaches the customer behind the access token as the
// cart's buyer, enabling a personalized checkout.
func (c *Client) UpdateBuyerIdentity(ctx context.Context, id, customerAccessToken string) (*Cart, error) {
	var out struct {
		CartBuyerIdentityUpdate struct {
			Cart       *wireCart       `json:"cart"`
			UserErrors []wireUserError `json:"userErrors"`
		} `json:"cartBuyerIdentityUpdate"`
	}
	err := c.do(ctx, updateBuyerIdentityMutation, func(e *jx.Encoder) {
		e.Field("cartId", func(e *jx.Encoder) { e.Str(id) })
		e.Field("buyerIdentity", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("customerAccessToken", func(e *jx.Encoder) {
					e.Str(customerAccessToken)
				})
			})
		})
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "cartBuyerIdentityUpdate")
	}
	if err := firstUserError(out.CartBuyerIdentityUpdate.UserErrors); err != nil {
		return nil, err
	}
	if out.CartBuyerIdentityUpdate.Cart == nil {
		return nil, errors.New("cartBuyerIdentityUpdate: empty cart in response")
	}
	return out.CartBuyerIdentityUpdate.Cart.toCart(), nil
}
