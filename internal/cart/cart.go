package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is a single product entry. Codes are unique within a cart and
// quantities are always positive.
type LineItem struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

// Cart is the per-owner aggregate. TotalPrice reflects the catalog prices
// observed by the mutation that produced Version.
type Cart struct {
	OwnerID    string
	LineItems  []LineItem
	TotalPrice decimal.Decimal
	Version    int64
	UpdatedAt  time.Time
}

// NewCart synthesizes the empty, never persisted cart for ownerID.
func NewCart(ownerID string) *Cart {
	return &Cart{
		OwnerID:    ownerID,
		LineItems:  []LineItem{},
		TotalPrice: decimal.Zero,
	}
}

// Clone returns a deep copy that can be mutated without touching c.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.LineItems = make([]LineItem, len(c.LineItems))
	copy(out.LineItems, c.LineItems)
	return &out
}

// IsEmpty reports whether the cart holds no line items.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.LineItems) == 0
}

// Quantity returns the quantity held for code, or 0.
func (c *Cart) Quantity(code string) int {
	if i := c.indexOf(code); i >= 0 {
		return c.LineItems[i].Quantity
	}
	return 0
}

func (c *Cart) indexOf(code string) int {
	for i, item := range c.LineItems {
		if item.ProductCode == code {
			return i
		}
	}
	return -1
}

// MaxLineQuantity bounds the quantity a single line item may hold.
const MaxLineQuantity = 10000

// MutationKind names the three deltas a cart accepts.
type MutationKind string

const (
	MutationAdd    MutationKind = "add"
	MutationRemove MutationKind = "remove"
	MutationClear  MutationKind = "clear"
)

// Mutation is one delta applied to a freshly loaded cart.
type Mutation struct {
	Kind        MutationKind
	ProductCode string
	Quantity    int
}

// Add merges qty units of code into the cart.
func Add(code string, qty int) Mutation {
	return Mutation{Kind: MutationAdd, ProductCode: code, Quantity: qty}
}

// Remove takes qty units of code out of the cart; the line goes away at zero.
func Remove(code string, qty int) Mutation {
	return Mutation{Kind: MutationRemove, ProductCode: code, Quantity: qty}
}

// Clear empties the cart.
func Clear() Mutation {
	return Mutation{Kind: MutationClear}
}

// validate checks the mutation without touching any cart state.
func (m Mutation) validate() error {
	switch m.Kind {
	case MutationAdd, MutationRemove:
		if m.ProductCode == "" {
			return errProductCodeRequired()
		}
		if m.Quantity <= 0 {
			return errInvalidQuantity(m.Quantity)
		}
		if m.Kind == MutationAdd && m.Quantity > MaxLineQuantity {
			return errInvalidQuantity(m.Quantity)
		}
		return nil
	case MutationClear:
		return nil
	default:
		return errUnknownMutation(m.Kind)
	}
}

// apply performs the delta on c in place.
func (m Mutation) apply(c *Cart) error {
	switch m.Kind {
	case MutationAdd:
		if i := c.indexOf(m.ProductCode); i >= 0 {
			merged := c.LineItems[i].Quantity + m.Quantity
			if merged > MaxLineQuantity {
				return errInvalidQuantity(merged)
			}
			c.LineItems[i].Quantity = merged
			return nil
		}
		c.LineItems = append(c.LineItems, LineItem{ProductCode: m.ProductCode, Quantity: m.Quantity})
		return nil
	case MutationRemove:
		i := c.indexOf(m.ProductCode)
		if i < 0 {
			return errProductNotInCart(m.ProductCode)
		}
		remaining := c.LineItems[i].Quantity - m.Quantity
		if remaining > 0 {
			c.LineItems[i].Quantity = remaining
			return nil
		}
		c.LineItems = append(c.LineItems[:i], c.LineItems[i+1:]...)
		return nil
	case MutationClear:
		c.LineItems = []LineItem{}
		return nil
	default:
		return errUnknownMutation(m.Kind)
	}
}
