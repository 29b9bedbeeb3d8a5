package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CartLineItem is the JSON element stored in carts.line_items.
type CartLineItem struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

// Cart is the persisted cart aggregate, one row per owner.
type Cart struct {
	ID         uuid.UUID                        `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID    string                           `gorm:"column:owner_id;type:text;not null;uniqueIndex:carts_owner_id_key"`
	LineItems  datatypes.JSONSlice[CartLineItem] `gorm:"column:line_items;not null"`
	TotalPrice decimal.Decimal                  `gorm:"column:total_price;type:numeric;not null;default:0"`
	Version    int64                            `gorm:"column:version;not null;default:0"`
	CreatedAt  time.Time                        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Cart) TableName() string {
	return "carts"
}
