package shopify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Variant is a purchasable product variant.
type Variant struct {
	ID        string
	Title     string
	Price     Money
	Available bool
}

// Product is a catalog entry with its variants.
type Product struct {
	ID          string
	Title       string
	Handle      string
	Description string
	ImageURL    string
	Price       Money
	Variants    []Variant
}

type wireProduct struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Handle        string `json:"handle"`
	Description   string `json:"description"`
	FeaturedImage *struct {
		URL string `json:"url"`
	} `json:"featuredImage"`
	PriceRange struct {
		MinVariantPrice wireMoney `json:"minVariantPrice"`
	} `json:"priceRange"`
	Variants struct {
		Edges []struct {
			Node struct {
				ID               string    `json:"id"`
				Title            string    `json:"title"`
				AvailableForSale bool      `json:"availableForSale"`
				Price            wireMoney `json:"price"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

func (w *wireProduct) toProduct() Product {
	p := Product{
		ID:          w.ID,
		Title:       w.Title,
		Handle:      w.Handle,
		Description: w.Description,
		Price:       Money(w.PriceRange.MinVariantPrice),
		Variants:    make([]Variant, 0, len(w.Variants.Edges)),
	}
	if w.FeaturedImage != nil {
		p.ImageURL = w.FeaturedImage.URL
	}
	for _, edge := range w.Variants.Edges {
		n := edge.Node
		p.Variants = append(p.Variants, Variant{
			ID:        n.ID,
			Title:     n.Title,
			Price:     Money(n.Price),
			Available: n.AvailableForSale,
		})
	}
	return p
}

// Products lists up to first catalog products in the shop's default order.
func (c *Client) Products(ctx context.Context, first int) ([]Product, error) {
	var out struct {
		Products struct {
			Edges []struct {
				Node wireProduct `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	err := c.do(ctx, productsQuery, func(e *jx.Encoder) {
		e.Field("first", func(e *jx.Encoder) { e.Int(first) })
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "products")
	}

	products := make([]Product, 0, len(out.Products.Edges))
	for _, edge := range out.Products.Edges {
		products = append(products, edge.Node.toProduct())
	}
	return products, nil
}

// ProductByHandle fetches one product by its URL slug. Returns (nil, nil)
// when no product matches.
func (c *Client) ProductByHandle(ctx context.Context, handle string) (*Product, error) {
	var out struct {
		Product *wireProduct `json:"product"`
	}
	err := c.do(ctx, productByHandleQuery, func(e *jx.Encoder) {
		e.Field("handle", func(e *jx.Encoder) { e.Str(handle) })
	}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "product by handle")
	}
	if out.Product == nil {
		return nil, nil
	}
	p := out.Product.toProduct()
	return &p, nil
}
