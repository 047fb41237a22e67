package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
		}).Error
}

// MarkFailed bumps the attempt counter and returns the new count.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, err error) (int, error) {
	msg := truncateError(err.Error())
	if updateErr := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    msg,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error; updateErr != nil {
		return 0, updateErr
	}

	var row models.OutboxEvent
	if loadErr := r.db.WithContext(ctx).Select("attempt_count").Where("id = ?", id).First(&row).Error; loadErr != nil {
		return 0, loadErr
	}
	return row.AttemptCount, nil
}

// MoveToDLQ records the terminal failure and marks the row published so the
// dispatcher stops picking it up.
func (r *Repository) MoveToDLQ(ctx context.Context, dlq *DLQRepository, event models.OutboxEvent, reason string, cause error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg := cause.Error()
		entry := models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   dlqReason(reason),
			ErrorMessage:  &msg,
			AttemptCount:  event.AttemptCount,
		}
		if err := dlq.InsertTx(tx, entry); err != nil {
			return err
		}
		return tx.Model(&models.OutboxEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]any{
				"published_at": time.Now().UTC(),
				"last_error":   truncateError(msg),
			}).Error
	})
}

func truncateError(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	return message[:maxLastErrorLen]
}

// DeletePublishedBefore prunes delivered rows older than cutoff. Unpublished
// rows are never touched.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
