package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/address"
	"github.com/angelmondragon/modoria-backend/internal/cart"
	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/db/dbtest"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

type harness struct {
	client    *db.Client
	conn      *gorm.DB
	svc       Service
	carts     cart.Service
	coupons   coupons.Service
	addresses address.Service
}

type failingEmitter struct {
	mu    sync.Mutex
	calls int
}

func (f *failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("outbox unavailable")
}

func newHarness(t *testing.T, opts Options) harness {
	t.Helper()
	return newHarnessWithEmitter(t, opts, nil)
}

func newHarnessWithEmitter(t *testing.T, opts Options, emitter outboxPublisher) harness {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()

	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(conn), nil)
	}
	ledger := inventory.NewLedger(conn, emitter, 0, nil)

	cartSvc, err := cart.NewService(cart.NewRepository(conn), client, ledger, "USD", nil)
	require.NoError(t, err)
	couponSvc, err := coupons.NewService(coupons.NewRepository(conn), nil)
	require.NoError(t, err)
	addressSvc, err := address.NewService(conn, client)
	require.NoError(t, err)

	svc, err := NewService(NewRepository(conn), client, cartSvc, ledger, couponSvc, addressSvc, emitter, opts)
	require.NoError(t, err)

	return harness{
		client:    client,
		conn:      conn,
		svc:       svc,
		carts:     cartSvc,
		coupons:   couponSvc,
		addresses: addressSvc,
	}
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (h harness) seedProduct(t *testing.T, sku, price string, qty int) models.Product {
	t.Helper()
	product := models.Product{
		SKU:      sku,
		Name:     "Product " + sku,
		Price:    money(price),
		Currency: "USD",
		Quantity: qty,
		IsActive: true,
	}
	require.NoError(t, h.conn.Create(&product).Error)
	return product
}

func (h harness) seedVariant(t *testing.T, product models.Product, sku string, qty int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ProductID:         product.ID,
		SKU:               sku,
		Name:              "Variant " + sku,
		InventoryQuantity: qty,
	}
	require.NoError(t, h.conn.Create(&variant).Error)
	return variant
}

func (h harness) addToCart(t *testing.T, userID uuid.UUID, productID uuid.UUID, variantID *uuid.UUID, qty int) {
	t.Helper()
	_, err := h.carts.AddItem(context.Background(), userID, cart.AddItemInput{ProductID: productID, VariantID: variantID, Quantity: qty})
	require.NoError(t, err)
}

func (h harness) productQty(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, h.conn.First(&product, "id = ?", id).Error)
	return product.Quantity
}

func (h harness) variantQty(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var variant models.ProductVariant
	require.NoError(t, h.conn.First(&variant, "id = ?", id).Error)
	return variant.InventoryQuantity
}

func (h harness) countOrders(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&count).Error)
	return count
}

func (h harness) events(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Where("event_type = ?", eventType).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func inlineAddress() *types.ShippingAddress {
	return &types.ShippingAddress{
		FirstName:  "Yassine",
		LastName:   "Amrani",
		Line1:      "4 Avenue Hassan II",
		City:       "Casablanca",
		PostalCode: "20000",
		Country:    "MA",
	}
}

func placeInput(userID uuid.UUID) PlaceOrderInput {
	return PlaceOrderInput{
		UserID:    userID,
		UserEmail: "buyer@example.com",
		Shipping:  ShippingSelection{Address: inlineAddress()},
	}
}

func (h harness) placePaidOrder(t *testing.T, userID uuid.UUID) *models.Order {
	t.Helper()
	order, err := h.svc.PlaceOrder(context.Background(), placeInput(userID))
	require.NoError(t, err)
	err = h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := h.svc.MarkPaid(context.Background(), tx, order.ID, uuid.New())
		return err
	})
	require.NoError(t, err)
	return order
}

func (h harness) seedPayment(t *testing.T, order *models.Order, status enums.PaymentStatus) models.Payment {
	t.Helper()
	payment := models.Payment{
		OrderID:          order.ID,
		UserID:           order.UserID,
		Provider:         enums.PaymentProviderStripe,
		ExternalIntentID: "pi_" + order.OrderNumber,
		Amount:           order.TotalAmount,
		Currency:         order.Currency,
		Status:           status,
	}
	require.NoError(t, h.conn.Create(&payment).Error)
	return payment
}

func strPtr(v string) *string {
	return &v
}
