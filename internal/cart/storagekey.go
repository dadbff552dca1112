package cart

import "storefront/internal/session"

// guestKey is the shared storage key for all anonymous visitors of one
// browser context.
const guestKey = "cart-guest"

// StorageKey maps a session to the persistent-store key holding its remote
// cart ID. The key is the sole partition between identities: distinct
// authenticated users never share a key, and the anonymous state has its own.
func StorageKey(s session.Session) string {
	if s.Authenticated() {
		return "cart-" + s.UserID
	}
	return guestKey
}
