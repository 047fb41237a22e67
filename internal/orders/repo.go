package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateLines(ctx context.Context, lines []models.OrderLine) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	LoadCatalog(ctx context.Context, productIDs, variantIDs []uuid.UUID) (map[uuid.UUID]models.Product, map[uuid.UUID]models.ProductVariant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	CancelOpenPayment(ctx context.Context, orderID uuid.UUID, now time.Time) error
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, error)
	List(ctx context.Context, status *enums.OrderStatus, params pagination.Params) ([]models.Order, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Lines").Create(order).Error
}

func (r *repository) CreateLines(ctx context.Context, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.withLines(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.withLines(ctx).Where("order_number = ?", number).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) withLines(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("id ASC")
	})
}

// LoadCatalog fetches the product and variant rows referenced by a cart so
// order lines can snapshot names and SKUs.
func (r *repository) LoadCatalog(ctx context.Context, productIDs, variantIDs []uuid.UUID) (map[uuid.UUID]models.Product, map[uuid.UUID]models.ProductVariant, error) {
	products := make(map[uuid.UUID]models.Product, len(productIDs))
	variants := make(map[uuid.UUID]models.ProductVariant, len(variantIDs))

	if len(productIDs) > 0 {
		var rows []models.Product
		if err := r.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&rows).Error; err != nil {
			return nil, nil, err
		}
		for _, row := range rows {
			products[row.ID] = row
		}
	}
	if len(variantIDs) > 0 {
		var rows []models.ProductVariant
		if err := r.db.WithContext(ctx).Where("id IN ?", variantIDs).Find(&rows).Error; err != nil {
			return nil, nil, err
		}
		for _, row := range rows {
			variants[row.ID] = row
		}
	}
	return products, variants, nil
}

// UpdateStatus moves the order from one status to another. It reports false
// when the row was no longer in the expected status.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	return res.RowsAffected > 0, res.Error
}

// CancelOpenPayment voids a payment that has not been captured yet. A capture
// that still lands afterwards is refunded by the payment flow.
func (r *repository) CancelOpenPayment(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("order_id = ? AND status IN ?", orderID, []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Updates(map[string]any{"status": enums.PaymentStatusCancelled, "updated_at": now}).Error
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	return r.page(ctx, r.db.WithContext(ctx).Where("user_id = ?", userID), params)
}

func (r *repository) List(ctx context.Context, status *enums.OrderStatus, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	return r.page(ctx, query, params)
}

// page applies the keyset cursor and fetches one row past the limit.
func (r *repository) page(ctx context.Context, query *gorm.DB, params pagination.Params) ([]models.Order, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	err = pagination.Keyset(query.Preload("Lines"), cursor, params.Limit).Find(&rows).Error
	return rows, err
}

// FindPendingBefore skips orders whose payment the gateway is still settling.
func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM payments WHERE payments.order_id = orders.id AND payments.status = ?)", enums.PaymentStatusProcessing).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
