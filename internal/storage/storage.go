// Package storage provides the small string key-value store the cart
// synchronizer uses to remember which remote cart ID belongs to which user
// identity. The store survives restarts (file and postgres backends) so a
// returning visitor gets their cart back.
package storage

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a persistent string key-value store. Delete is idempotent:
// deleting a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
