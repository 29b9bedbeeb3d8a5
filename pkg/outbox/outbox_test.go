package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/jem-cart/pkg/db/models"
	"github.com/angelmondragon/jem-cart/pkg/enums"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func emitCartEvent(t *testing.T, conn *gorm.DB, svc *Service, ownerID string) {
	t.Helper()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCartUpdated,
			AggregateType: enums.AggregateCart,
			AggregateID:   ownerID,
			Actor:         &ActorRef{OwnerID: ownerID},
			Data:          map[string]any{"ownerId": ownerID, "version": 1},
		})
	})
	require.NoError(t, err)
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	emitCartEvent(t, conn, svc, "owner-1")

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, enums.EventCartUpdated, row.EventType)
	assert.Equal(t, "owner-1", row.AggregateID)
	assert.Nil(t, row.PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "owner-1", envelope.Actor.OwnerID)
	assert.JSONEq(t, `{"ownerId":"owner-1","version":1}`, string(envelope.Data))
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventCartUpdated, AggregateType: enums.AggregateCart})
	require.Error(t, err)

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_created", AggregateType: enums.AggregateCart})
	})
	require.Error(t, err)

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: enums.EventCartDeleted, AggregateType: "vendor_order"})
	})
	require.Error(t, err)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	boom := errors.New("write failed")

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCartDeleted,
			AggregateType: enums.AggregateCart,
			AggregateID:   "owner-1",
			Data:          map[string]any{"ownerId": "owner-1"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	pending, err := NewRepository(conn).CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRepositoryLifecycle(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()

	emitCartEvent(t, conn, svc, "owner-1")
	emitCartEvent(t, conn, svc, "owner-2")
	emitCartEvent(t, conn, svc, "owner-3")

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, pending)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.ClaimBatch(tx, 10)
		return err
	}))
	require.Len(t, rows, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublished(tx, rows[0].ID); err != nil {
			return err
		}
		if err := repo.RecordFailure(tx, rows[1].ID, errors.New("timeout"), false); err != nil {
			return err
		}
		return repo.RecordFailure(tx, rows[2].ID, errors.New("malformed"), true)
	}))

	pending, err = repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", rows[1].ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "timeout", *failed.LastError)
	assert.Nil(t, failed.FailedAt)
	assert.True(t, failed.Pending())

	var parked models.OutboxEvent
	require.NoError(t, conn.First(&parked, "id = ?", rows[2].ID).Error)
	require.NotNil(t, parked.FailedAt)
	assert.False(t, parked.Pending())
	assert.WithinDuration(t, time.Now(), *parked.FailedAt, time.Minute)

	var next []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		next, err = repo.ClaimBatch(tx, 10)
		return err
	}))
	require.Len(t, next, 1)
	assert.Equal(t, rows[1].ID, next[0].ID)
}

func TestRepositoryRequiresTransaction(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	_, err := repo.ClaimBatch(nil, 1)
	require.Error(t, err)
	require.Error(t, repo.Append(nil, models.OutboxEvent{}))
}

func TestDecodeEnvelope(t *testing.T) {
	envelope, err := newEnvelope(time.Time{}, &ActorRef{OwnerID: "owner-1"}, map[string]int{"version": 4})
	require.NoError(t, err)
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.EventID, decoded.EventID)
	assert.Equal(t, time.UTC, decoded.OccurredAt.Location())

	for name, payload := range map[string]string{
		"not json":        `{"version":`,
		"future version":  `{"version":2,"eventId":"e1","data":{}}`,
		"missing eventId": `{"version":1,"data":{}}`,
		"missing data":    `{"version":1,"eventId":"e1"}`,
	} {
		_, err := DecodeEnvelope([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, name)
	}
}

func TestEnvelopeAttributes(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	envelope := PayloadEnvelope{Version: EnvelopeVersion, EventID: "evt-1", OccurredAt: occurred}
	attrs := envelope.Attributes(models.OutboxEvent{
		EventType:     enums.EventCartDeleted,
		AggregateType: enums.AggregateCart,
		AggregateID:   "owner-9",
	})

	assert.Equal(t, map[string]string{
		"event_id":       "evt-1",
		"event_type":     "cart_deleted",
		"aggregate_type": "cart",
		"aggregate_id":   "owner-9",
		"occurred_at":    "2026-03-01T12:00:00Z",
	}, attrs)
}
