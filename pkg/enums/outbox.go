package enums

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

// OutboxEventType names a cart change published through the outbox.
type OutboxEventType string

const (
	AggregateCart OutboxAggregateType = "cart"

	// EventCartUpdated carries the full cart snapshot after a committed write,
	// including clears.
	EventCartUpdated OutboxEventType = "cart_updated"
	EventCartDeleted OutboxEventType = "cart_deleted"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateCart
}

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventCartUpdated, EventCartDeleted:
		return true
	default:
		return false
	}
}
