package cart

import "context"

// Store persists carts keyed by owner. Write is a compare-and-set on
// Version: expectedVersion 0 creates, anything else updates only while the
// stored version still matches. A failed write leaves nothing behind.
type Store interface {
	// Read returns ErrCartNotFound when the owner has no stored cart.
	Read(ctx context.Context, ownerID string) (*Cart, error)
	// Write returns ErrVersionConflict when another writer won, or
	// ErrCartNotFound when the cart expected at expectedVersion was deleted.
	Write(ctx context.Context, ownerID string, expectedVersion int64, next *Cart) error
	// Delete returns ErrCartNotFound when there is nothing to delete.
	Delete(ctx context.Context, ownerID string) error
}
