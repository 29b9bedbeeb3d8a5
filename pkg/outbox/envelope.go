package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jem-cart/pkg/db/models"
)

// EnvelopeVersion is bumped whenever PayloadEnvelope changes shape.
const EnvelopeVersion = 1

// ErrMalformedEnvelope marks payloads that can never be published.
var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// ActorRef identifies who produced the event.
type ActorRef struct {
	OwnerID string `json:"ownerId"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and forwarded
// verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(occurredAt time.Time, actor *ActorRef, data any) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses a stored payload. Every failure wraps ErrMalformedEnvelope.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	switch {
	case envelope.Version != EnvelopeVersion:
		return envelope, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, envelope.Version)
	case envelope.EventID == "":
		return envelope, fmt.Errorf("%w: missing event id", ErrMalformedEnvelope)
	case len(envelope.Data) == 0:
		return envelope, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	return envelope, nil
}

// Attributes are the Pub/Sub message attributes subscribers filter on.
func (e PayloadEnvelope) Attributes(row models.OutboxEvent) map[string]string {
	return map[string]string{
		"event_id":       e.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID,
		"occurred_at":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
