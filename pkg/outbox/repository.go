package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/jem-cart/pkg/db/models"
)

const pendingClause = "published_at IS NULL AND failed_at IS NULL"

// Repository reads and writes outbox_events. Methods taking tx must run inside
// the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(tx *gorm.DB, row models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&row).Error
}

// ClaimBatch locks up to limit pending rows, oldest first. Rows locked by
// another publisher are skipped. sqlite ignores the locking clause.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where(pendingClause).
		Order("created_at, id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{
		"published_at": time.Now().UTC(),
		"last_error":   nil,
	})
}

// RecordFailure bumps the attempt counter. A terminal failure also stamps
// failed_at, which removes the row from future batches.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error, terminal bool) error {
	changes := map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	}
	if terminal {
		changes["failed_at"] = time.Now().UTC()
	}
	return r.update(tx, id, changes)
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, changes map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(changes).Error
}

// CountPending reports rows still waiting to be published.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where(pendingClause).Count(&n).Error
	return n, err
}
