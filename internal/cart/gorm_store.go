package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/jem-cart/pkg/db"
	"github.com/angelmondragon/jem-cart/pkg/db/models"
	"github.com/angelmondragon/jem-cart/pkg/enums"
	"github.com/angelmondragon/jem-cart/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormClient interface {
	txRunner
	DB() *gorm.DB
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// GormStore persists carts in the carts table. The version check happens in
// the UPDATE's WHERE clause so the compare and the set are one statement.
type GormStore struct {
	db     *gorm.DB
	tx     txRunner
	events eventEmitter
	now    func() time.Time
}

type GormStoreOption func(*GormStore)

// WithEventEmitter queues cart_updated/cart_deleted outbox rows in the same
// transaction as each write.
func WithEventEmitter(emitter eventEmitter) GormStoreOption {
	return func(s *GormStore) {
		s.events = emitter
	}
}

// NewGormStore builds a store over client's connection and transactions.
func NewGormStore(client gormClient, opts ...GormStoreOption) (*GormStore, error) {
	if client == nil || client.DB() == nil {
		return nil, fmt.Errorf("gorm client required")
	}
	store := &GormStore{
		db:  client.DB(),
		tx:  client,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Read loads the owner's row.
func (s *GormStore) Read(ctx context.Context, ownerID string) (*Cart, error) {
	var row models.Cart
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromModel(&row), nil
}

// Write inserts the row when expectedVersion is 0 and otherwise updates the
// row still at expectedVersion.
func (s *GormStore) Write(ctx context.Context, ownerID string, expectedVersion int64, next *Cart) error {
	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if expectedVersion == 0 {
			err = s.insert(tx, ownerID, next, now)
		} else {
			err = s.update(tx, ownerID, expectedVersion, next, now)
		}
		if err != nil {
			return err
		}
		snapshot := next.Clone()
		snapshot.OwnerID = ownerID
		return s.emit(ctx, tx, enums.EventCartUpdated, ownerID, cartUpdatedEvent(snapshot))
	})
	if err != nil {
		return err
	}
	next.UpdatedAt = now
	return nil
}

func (s *GormStore) insert(tx *gorm.DB, ownerID string, next *Cart, now time.Time) error {
	row := toModel(ownerID, next)
	row.ID = uuid.New()
	row.CreatedAt = now
	row.UpdatedAt = now

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return ErrVersionConflict
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *GormStore) update(tx *gorm.DB, ownerID string, expectedVersion int64, next *Cart, now time.Time) error {
	row := toModel(ownerID, next)
	res := tx.Model(&models.Cart{}).
		Where("owner_id = ? AND version = ?", ownerID, expectedVersion).
		Updates(map[string]any{
			"line_items":  row.LineItems,
			"total_price": row.TotalPrice,
			"version":     row.Version,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var remaining int64
	if err := tx.Model(&models.Cart{}).Where("owner_id = ?", ownerID).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining == 0 {
		return ErrCartNotFound
	}
	return ErrVersionConflict
}

// Delete removes the owner's row and queues cart_deleted.
func (s *GormStore) Delete(ctx context.Context, ownerID string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.Where("owner_id = ?", ownerID).Delete(&models.Cart{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCartNotFound
		}
		return s.emit(ctx, tx, enums.EventCartDeleted, ownerID, CartDeletedEvent{OwnerID: ownerID})
	})
}

func (s *GormStore) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, ownerID string, data any) error {
	if s.events == nil {
		return nil
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateCart,
		AggregateID:   ownerID,
		Actor:         &outbox.ActorRef{OwnerID: ownerID},
		Data:          data,
	})
}

func toModel(ownerID string, c *Cart) models.Cart {
	items := make([]models.CartLineItem, 0, len(c.LineItems))
	for _, item := range c.LineItems {
		items = append(items, models.CartLineItem{ProductCode: item.ProductCode, Quantity: item.Quantity})
	}
	return models.Cart{
		OwnerID:    ownerID,
		LineItems:  datatypes.NewJSONSlice(items),
		TotalPrice: c.TotalPrice,
		Version:    c.Version,
	}
}

func fromModel(row *models.Cart) *Cart {
	items := make([]LineItem, 0, len(row.LineItems))
	for _, item := range row.LineItems {
		items = append(items, LineItem{ProductCode: item.ProductCode, Quantity: item.Quantity})
	}
	return &Cart{
		OwnerID:    row.OwnerID,
		LineItems:  items,
		TotalPrice: row.TotalPrice,
		Version:    row.Version,
		UpdatedAt:  row.UpdatedAt,
	}
}
