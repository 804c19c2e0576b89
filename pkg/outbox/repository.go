package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// maxErrorLen caps stored error text on both outbox and dead-letter rows.
const maxErrorLen = 1024

// Repository persists outbox rows and the dead-letter copies of rows the
// publisher gave up on. Every write runs on the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

func (r *Repository) ExistsPendingTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	var found []uuid.UUID
	err := tx.Model(&models.OutboxEvent{}).
		Where(&models.OutboxEvent{EventType: eventType, AggregateType: aggregateType, AggregateID: aggregateID}).
		Where("published_at IS NULL").
		Limit(1).
		Pluck("id", &found).Error
	return len(found) > 0, err
}

// ClaimBatchTx returns up to limit unpublished rows below maxAttempts, oldest
// first. On Postgres the rows stay locked until tx ends and rows locked by a
// concurrent publisher are skipped.
func (r *Repository) ClaimBatchTx(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at, id").
		Limit(limit)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	return rows, q.Find(&rows).Error
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, ids ...uuid.UUID) error {
	if tx == nil {
		return errTxRequired
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("published_at", time.Now().UTC()).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    clip(cause.Error()),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// ParkTx copies event into the dead-letter table and raises its attempt count
// to terminalAttempts so ClaimBatchTx never returns it again.
func (r *Repository) ParkTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, terminalAttempts int) error {
	if tx == nil {
		return errTxRequired
	}
	msg := clip(cause.Error())
	if err := tx.Create(&models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}).Error; err != nil {
		return err
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{"last_error": msg, "attempt_count": terminalAttempts}).Error
}

// DeadLetter looks up the parked copy of an event. It returns nil when the
// event was never parked.
func (r *Repository) DeadLetter(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// PruneEventsTx deletes rows published before cutoff and rows created before
// cutoff that reached minAttempts without being published.
func (r *Repository) PruneEventsTx(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	cutoff = cutoff.UTC()
	res := tx.WithContext(ctx).
		Where("published_at < @cutoff OR (published_at IS NULL AND attempt_count >= @attempts AND created_at < @cutoff)",
			sql.Named("cutoff", cutoff), sql.Named("attempts", minAttempts)).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// PruneDeadLettersTx deletes dead-letter rows that failed before cutoff.
func (r *Repository) PruneDeadLettersTx(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff.UTC()).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

func clip(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
