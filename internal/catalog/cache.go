// Package catalog caches the product listing so the storefront fetches it
// once and reuses it across consumers. The cache is an owned value with
// explicit construction and invalidation, not an ambient package variable,
// and concurrent first reads share a single in-flight remote fetch.
package catalog

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storefront/internal/shopify"
)

// Source fetches products from the remote catalog.
type Source interface {
	Products(ctx context.Context, first int) ([]shopify.Product, error)
	ProductByHandle(ctx context.Context, handle string) (*shopify.Product, error)
}

var _ Source = (*shopify.Client)(nil)

// Cache is a read-through cache over Source. The listing stays cached until
// Invalidate; a failed fetch caches nothing, so the next read retries.
type Cache struct {
	src   Source
	limit int
	lg    *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	products []shopify.Product
	loaded   bool
}

// New builds a Cache fetching up to limit products.
func New(src Source, limit int, lg *zap.Logger) *Cache {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Cache{
		src:   src,
		limit: limit,
		lg:    lg,
	}
}

// Products returns the cached listing, fetching it on first use. Concurrent
// callers during the initial fetch are coalesced onto one remote request.
func (c *Cache) Products(ctx context.Context) ([]shopify.Product, error) {
	c.mu.RLock()
	if c.loaded {
		products := make([]shopify.Product, len(c.products))
		copy(products, c.products)
		c.mu.RUnlock()
		return products, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("products", func() (any, error) {
		products, err := c.src.Products(ctx, c.limit)
		if err != nil {
			return nil, errors.Wrap(err, "fetch products")
		}
		c.mu.Lock()
		c.products = products
		c.loaded = true
		c.mu.Unlock()
		c.lg.Debug("Catalog cached", zap.Int("products", len(products)))
		return products, nil
	})
	if err != nil {
		return nil, err
	}

	products := v.([]shopify.Product)
	out := make([]shopify.Product, len(products))
	copy(out, products)
	return out, nil
}

// ProductByHandle resolves one product by slug, first from the cached listing
// and then remotely for handles beyond the cached page. Concurrent misses on
// the same handle share one remote request. Returns (nil, nil) when no
// product matches.
func (c *Cache) ProductByHandle(ctx context.Context, handle string) (*shopify.Product, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].Handle == handle {
			return &products[i], nil
		}
	}

	v, err, _ := c.group.Do("handle:"+handle, func() (any, error) {
		p, err := c.src.ProductByHandle(ctx, handle)
		if err != nil {
			return nil, errors.Wrap(err, "fetch product")
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(*shopify.Product)
	if p == nil {
		return nil, nil
	}
	out := *p
	return &out, nil
}

// Invalidate drops the cached listing; the next read fetches fresh data.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.products = nil
	c.loaded = false
	c.mu.Unlock()
}
