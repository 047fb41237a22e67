package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/metrics"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/pagination"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type cartSource interface {
	ForCheckout(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Cart, error)
	ClearTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
}

type stockLedger interface {
	ReserveAndCommit(ctx context.Context, tx *gorm.DB, sku inventory.SKU, qty int) (inventory.Result, error)
	Release(ctx context.Context, tx *gorm.DB, sku inventory.SKU, qty int) error
}

type couponEvaluator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (coupons.Evaluation, error)
	Redeem(ctx context.Context, tx *gorm.DB, coupon *models.Coupon) error
}

type addressResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, userID, addressID uuid.UUID) (types.ShippingAddress, error)
}

// Service is the order builder, the order state machine and the order queries.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)

	Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.Order, error)
	GetByNumber(ctx context.Context, number string, actor Actor) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*types.ListResult[models.Order], error)
	List(ctx context.Context, status *enums.OrderStatus, params pagination.Params) (*types.ListResult[models.Order], error)

	MarkPaid(ctx context.Context, tx *gorm.DB, orderID, paymentID uuid.UUID) (*models.Order, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*models.Order, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, update StatusUpdate) (*models.Order, error)
	ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Options carries the optional collaborators of the service.
type Options struct {
	Pricing  Pricing
	Metrics  *metrics.CheckoutMetrics
	Logger   *logger.Logger
	Now      func() time.Time
	Numbers  NumberGenerator
	Currency string
}

type service struct {
	repo      Repository
	tx        txRunner
	carts     cartSource
	stock     stockLedger
	coupons   couponEvaluator
	addresses addressResolver
	outbox    outboxPublisher

	pricing  Pricing
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	now      func() time.Time
	numbers  NumberGenerator
	notes    *bluemonday.Policy
	currency string
}

// NewService builds the order service with the required dependencies.
func NewService(
	repo Repository,
	tx txRunner,
	carts cartSource,
	stock stockLedger,
	couponSvc couponEvaluator,
	addresses addressResolver,
	outbox outboxPublisher,
	opts Options,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart source required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if couponSvc == nil {
		return nil, fmt.Errorf("coupon evaluator required")
	}
	if addresses == nil {
		return nil, fmt.Errorf("address resolver required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Numbers == nil {
		opts.Numbers = NewOrderNumber
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &service{
		repo:      repo,
		tx:        tx,
		carts:     carts,
		stock:     stock,
		coupons:   couponSvc,
		addresses: addresses,
		outbox:    outbox,
		pricing:   opts.Pricing,
		metrics:   opts.Metrics,
		logg:      opts.Logger,
		now:       opts.Now,
		numbers:   opts.Numbers,
		notes:     bluemonday.StrictPolicy(),
		currency:  opts.Currency,
	}, nil
}

// Get returns an order. Customers only see their own orders; a foreign order
// reads as not found.
func (s *service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) GetByNumber(ctx context.Context, number string, actor Actor) (*models.Order, error) {
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*types.ListResult[models.Order], error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	rows, err := s.repo.ListForUser(ctx, userID, params)
	if err != nil {
		return nil, pagination.ListError(err, "list orders")
	}
	return pageOf(rows, params.Limit), nil
}

func (s *service) List(ctx context.Context, status *enums.OrderStatus, params pagination.Params) (*types.ListResult[models.Order], error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	rows, err := s.repo.List(ctx, status, params)
	if err != nil {
		return nil, pagination.ListError(err, "list orders")
	}
	return pageOf(rows, params.Limit), nil
}

func pageOf(rows []models.Order, requested int) *types.ListResult[models.Order] {
	items, next := pagination.Page(rows, requested, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &types.ListResult[models.Order]{Items: items, NextCursor: next}
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// emitBestEffort writes an outbox event behind a savepoint so a failed insert
// is logged without aborting the surrounding transaction.
func (s *service) emitBestEffort(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) {
	const savepoint = "orders_emit"
	if err := tx.SavePoint(savepoint).Error; err != nil {
		s.logg.Error(ctx, "outbox savepoint failed", err)
		return
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			s.logg.Error(ctx, "outbox savepoint rollback failed", rbErr)
		}
		s.logg.Error(s.logg.WithField(ctx, "event_type", string(event.EventType)), "outbox emit failed", err)
	}
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil && actor.Role == "" {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}
