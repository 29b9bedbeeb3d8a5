package cart

// CartUpdatedEvent is the outbox payload for a committed cart revision.
type CartUpdatedEvent struct {
	OwnerID    string     `json:"ownerId"`
	Version    int64      `json:"version"`
	LineItems  []LineItem `json:"lineItems"`
	TotalPrice string     `json:"totalPrice"`
}

// CartDeletedEvent is the outbox payload for a removed cart.
type CartDeletedEvent struct {
	OwnerID string `json:"ownerId"`
}

func cartUpdatedEvent(c *Cart) CartUpdatedEvent {
	return CartUpdatedEvent{
		OwnerID:    c.OwnerID,
		Version:    c.Version,
		LineItems:  c.LineItems,
		TotalPrice: c.TotalPrice.String(),
	}
}
