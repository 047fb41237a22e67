package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"gorm.io/gorm"
)

// RetentionRepository prunes notifications the recipient already read.
type RetentionRepository struct {
	db *gorm.DB
}

func NewRetentionRepository(db *gorm.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// DeleteOlderThan removes read notifications created before cutoff.
func (r *RetentionRepository) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Where("read_at IS NOT NULL AND created_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
