package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/orders"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/metrics"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderFlow is the slice of the order service the coordinator drives.
type orderFlow interface {
	Get(ctx context.Context, id uuid.UUID, actor orders.Actor) (*models.Order, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID, paymentID uuid.UUID) (*models.Order, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type eventGuard interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// IntentInput requests a payment intent for one of the caller's orders.
type IntentInput struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	// Provider overrides the configured default gateway.
	Provider      enums.PaymentProvider
	PaymentSource string
}

// IntentResult is what the client needs to finish paying.
type IntentResult struct {
	Payment      *models.Payment
	ClientSecret string
}

// Service coordinates payment intents, confirmations, webhooks and refunds
// with the order state machine.
type Service interface {
	CreateIntent(ctx context.Context, input IntentInput) (*IntentResult, error)
	Confirm(ctx context.Context, intentID string) (*models.Payment, error)
	HandleWebhook(ctx context.Context, provider enums.PaymentProvider, payload []byte, signature string) error
	Refund(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error)
}

// Options carries the optional collaborators of the coordinator.
type Options struct {
	DefaultProvider enums.PaymentProvider
	// TestPaymentMethod auto-confirms intents awaiting a payment method.
	// Leave empty outside test mode.
	TestPaymentMethod string
	Guard             eventGuard
	Metrics           *metrics.CheckoutMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	orders   orderFlow
	outbox   outboxPublisher
	gateways map[enums.PaymentProvider]gateway.Gateway

	defaultProvider   enums.PaymentProvider
	testPaymentMethod string
	guard             eventGuard
	metrics           *metrics.CheckoutMetrics
	logg              *logger.Logger
	now               func() time.Time
}

// NewService wires the coordinator. At least one gateway is required; the
// first one becomes the default provider unless Options names another.
func NewService(repo Repository, tx txRunner, orderSvc orderFlow, outbox outboxPublisher, gateways []gateway.Gateway, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("at least one payment gateway required")
	}

	byProvider := make(map[enums.PaymentProvider]gateway.Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			return nil, fmt.Errorf("payment gateway must not be nil")
		}
		byProvider[gw.Provider()] = gw
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = gateways[0].Provider()
	}
	if _, ok := byProvider[opts.DefaultProvider]; !ok {
		return nil, fmt.Errorf("no gateway configured for default provider %s", opts.DefaultProvider)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &service{
		repo:              repo,
		tx:                tx,
		orders:            orderSvc,
		outbox:            outbox,
		gateways:          byProvider,
		defaultProvider:   opts.DefaultProvider,
		testPaymentMethod: opts.TestPaymentMethod,
		guard:             opts.Guard,
		metrics:           opts.Metrics,
		logg:              opts.Logger,
		now:               opts.Now,
	}, nil
}

func (s *service) gateway(provider enums.PaymentProvider) (gateway.Gateway, error) {
	if provider == "" {
		provider = s.defaultProvider
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider not available").
			WithDetails(map[string]any{"provider": provider})
	}
	return gw, nil
}

// observe starts a gateway latency timer; defer the returned func.
func (s *service) observe(provider enums.PaymentProvider, operation string) func() {
	start := s.now()
	return func() {
		s.metrics.ObserveGatewayCall(string(provider), operation, s.now().Sub(start))
	}
}

func (s *service) findByIntent(ctx context.Context, repo Repository, intentID string) (*models.Payment, error) {
	payment, err := repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

// emitBestEffort queues an event behind a savepoint so a broken outbox never
// undoes a payment the gateway already settled.
func (s *service) emitBestEffort(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) {
	const savepoint = "payments_emit"
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

func paymentConflict(payment *models.Payment, msg string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, msg).
		WithDetails(map[string]any{"payment_status": payment.Status})
}
