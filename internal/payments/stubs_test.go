package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/address"
	"github.com/angelmondragon/modoria-backend/internal/cart"
	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/internal/orders"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/db/dbtest"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

const testPaymentMethod = "pm_card_visa"

type stubGateway struct {
	mu       sync.Mutex
	provider enums.PaymentProvider
	intents  map[string]*gateway.Intent
	seq      int
	calls    map[string]int

	createErr   error
	retrieveErr error
	refundErr   error

	createInputs   []gateway.CreateIntentInput
	refunds        []gateway.RefundInput
	confirmMethods []string
}

func newStubGateway(provider enums.PaymentProvider) *stubGateway {
	return &stubGateway{
		provider: provider,
		intents:  map[string]*gateway.Intent{},
		calls:    map[string]int{},
	}
}

func (g *stubGateway) Provider() enums.PaymentProvider {
	return g.provider
}

func (g *stubGateway) CreateIntent(_ context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create"]++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	g.createInputs = append(g.createInputs, input)
	intent := &gateway.Intent{
		ID:           fmt.Sprintf("pi_%d", g.seq),
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.seq),
		Status:       gateway.IntentRequiresPaymentMethod,
		Amount:       input.Amount,
		Currency:     input.Currency,
	}
	g.intents[intent.ID] = intent
	copied := *intent
	return &copied, nil
}

func (g *stubGateway) RetrieveIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["retrieve"]++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "no such intent")
	}
	copied := *intent
	return &copied, nil
}

func (g *stubGateway) ConfirmIntent(_ context.Context, intentID, paymentMethod string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["confirm"]++
	g.confirmMethods = append(g.confirmMethods, paymentMethod)
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "no such intent")
	}
	if paymentMethod != "" || intent.Status == gateway.IntentRequiresConfirmation {
		intent.Status = gateway.IntentSucceeded
		intent.TransactionID = "ch_" + intentID
	}
	copied := *intent
	return &copied, nil
}

func (g *stubGateway) CreateRefund(_ context.Context, input gateway.RefundInput) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["refund"]++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, input)
	return &gateway.Refund{ID: fmt.Sprintf("re_%d", len(g.refunds)), Status: "succeeded"}, nil
}

type stubEvent struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Intent string `json:"intent"`
	Reason string `json:"reason"`
}

// ParseWebhook accepts the literal signature "valid" and a stubEvent body.
func (g *stubGateway) ParseWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if signature != "valid" {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid signature")
	}
	var event stubEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
	}
	return &gateway.WebhookEvent{
		ID:            event.ID,
		Type:          event.Kind,
		Kind:          gateway.WebhookKind(event.Kind),
		IntentID:      event.Intent,
		FailureReason: event.Reason,
	}, nil
}

func (g *stubGateway) setStatus(intentID string, status gateway.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intentID].Status = status
	if status == gateway.IntentSucceeded {
		g.intents[intentID].TransactionID = "ch_" + intentID
	}
}

func (g *stubGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.keys[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return value, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "modoria:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *memoryStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

type harness struct {
	client *db.Client
	conn   *gorm.DB
	orders orders.Service
	carts  cart.Service
	gw     *stubGateway
	store  *memoryStore
	svc    Service
}

func newHarness(t *testing.T, opts Options) harness {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	ledger := inventory.NewLedger(conn, emitter, 0, nil)

	cartSvc, err := cart.NewService(cart.NewRepository(conn), client, ledger, "USD", nil)
	require.NoError(t, err)
	couponSvc, err := coupons.NewService(coupons.NewRepository(conn), nil)
	require.NoError(t, err)
	addressSvc, err := address.NewService(conn, client)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(conn), client, cartSvc, ledger, couponSvc, addressSvc, emitter, orders.Options{})
	require.NoError(t, err)

	store := newMemoryStore()
	if opts.Guard == nil {
		guard, err := idempotency.New(store, time.Hour, WebhookScope)
		require.NoError(t, err)
		opts.Guard = guard
	}
	gw := newStubGateway(enums.PaymentProviderStripe)
	svc, err := NewService(NewRepository(conn), client, orderSvc, emitter, []gateway.Gateway{gw}, opts)
	require.NoError(t, err)

	return harness{
		client: client,
		conn:   conn,
		orders: orderSvc,
		carts:  cartSvc,
		gw:     gw,
		store:  store,
		svc:    svc,
	}
}

// placeOrder seeds a product and places a PENDING order of two units at 20.00.
func (h harness) placeOrder(t *testing.T, userID uuid.UUID) *models.Order {
	t.Helper()
	product := models.Product{
		SKU:      "SKU-" + uuid.NewString()[:8],
		Name:     "Linen shirt",
		Price:    decimal.RequireFromString("20.00"),
		Currency: "USD",
		Quantity: 10,
		IsActive: true,
	}
	require.NoError(t, h.conn.Create(&product).Error)
	_, err := h.carts.AddItem(context.Background(), userID, cart.AddItemInput{ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)

	order, err := h.orders.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		UserID:    userID,
		UserEmail: "buyer@example.com",
		Shipping: orders.ShippingSelection{Address: &types.ShippingAddress{
			FirstName:  "Nadia",
			LastName:   "Benali",
			Line1:      "9 Rue de Fes",
			City:       "Rabat",
			PostalCode: "10000",
			Country:    "MA",
		}},
	})
	require.NoError(t, err)
	return order
}

func (h harness) payment(t *testing.T, orderID uuid.UUID) models.Payment {
	t.Helper()
	var payment models.Payment
	require.NoError(t, h.conn.First(&payment, "order_id = ?", orderID).Error)
	return payment
}

func (h harness) orderStatus(t *testing.T, orderID uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, h.conn.First(&order, "id = ?", orderID).Error)
	return order.Status
}

func (h harness) eventCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func webhookBody(id string, kind gateway.WebhookKind, intentID, reason string) []byte {
	body, _ := json.Marshal(stubEvent{ID: id, Kind: string(kind), Intent: intentID, Reason: reason})
	return body
}
