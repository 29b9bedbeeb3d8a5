package cart

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps carts in process memory. It is meant for local runs and
// tests; carts do not survive a restart and are not shared across replicas.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]*Cart
	now   func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts: make(map[string]*Cart),
		now:   time.Now,
	}
}

// Read returns a copy of the stored cart or ErrCartNotFound.
func (s *MemoryStore) Read(ctx context.Context, ownerID string) (*Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.carts[ownerID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return stored.Clone(), nil
}

// Write replaces the cart when its stored version equals expectedVersion.
// Version 0 means the cart must not exist yet.
func (s *MemoryStore) Write(ctx context.Context, ownerID string, expectedVersion int64, next *Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.carts[ownerID]
	switch {
	case expectedVersion == 0 && ok:
		return ErrVersionConflict
	case expectedVersion != 0 && !ok:
		return ErrCartNotFound
	case ok && stored.Version != expectedVersion:
		return ErrVersionConflict
	}

	saved := next.Clone()
	saved.OwnerID = ownerID
	saved.UpdatedAt = s.now().UTC()
	s.carts[ownerID] = saved
	next.UpdatedAt = saved.UpdatedAt
	return nil
}

// Delete removes the cart, returning ErrCartNotFound when there is none.
func (s *MemoryStore) Delete(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[ownerID]; !ok {
		return ErrCartNotFound
	}
	delete(s.carts, ownerID)
	return nil
}
