package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const redisDeleteAttempts = 3

type redisWatcher interface {
	Get(ctx context.Context, key string) (string, error)
	Watch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error
	CartKey(ownerID string) string
}

// RedisStore keeps one JSON document per owner and uses WATCH/MULTI to make
// the version comparison and the SET atomic. A non-zero ttl expires idle carts.
type RedisStore struct {
	client redisWatcher
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore wraps client. A negative ttl is treated as no expiry.
func NewRedisStore(client redisWatcher, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}, nil
}

type redisCart struct {
	OwnerID    string          `json:"owner_id"`
	LineItems  []LineItem      `json:"line_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Read fetches and decodes the owner's cart document.
func (s *RedisStore) Read(ctx context.Context, ownerID string) (*Cart, error) {
	raw, err := s.client.Get(ctx, s.client.CartKey(ownerID))
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisCart(raw)
}

// Write sets the document inside a WATCH transaction, failing with
// ErrVersionConflict when the stored version differs from expectedVersion.
func (s *RedisStore) Write(ctx context.Context, ownerID string, expectedVersion int64, next *Cart) error {
	key := s.client.CartKey(ownerID)
	now := s.now().UTC()

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			if expectedVersion != 0 {
				return ErrCartNotFound
			}
		case err != nil:
			return err
		default:
			stored, err := decodeRedisCart(raw)
			if err != nil {
				return err
			}
			if stored.Version != expectedVersion {
				return ErrVersionConflict
			}
		}

		payload, err := json.Marshal(redisCart{
			OwnerID:    ownerID,
			LineItems:  next.LineItems,
			TotalPrice: next.TotalPrice,
			Version:    next.Version,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	next.UpdatedAt = now
	return nil
}

// Delete removes the owner's cart document or returns ErrCartNotFound.
func (s *RedisStore) Delete(ctx context.Context, ownerID string) error {
	key := s.client.CartKey(ownerID)
	del := func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrCartNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < redisDeleteAttempts; attempt++ {
		err = s.client.Watch(ctx, del, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func decodeRedisCart(raw string) (*Cart, error) {
	var stored redisCart
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	items := stored.LineItems
	if items == nil {
		items = []LineItem{}
	}
	return &Cart{
		OwnerID:    stored.OwnerID,
		LineItems:  items,
		TotalPrice: stored.TotalPrice,
		Version:    stored.Version,
		UpdatedAt:  stored.UpdatedAt,
	}, nil
}
