package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/db/dbtest"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func seedProduct(t *testing.T, conn *gorm.DB, sku string, qty int) models.Product {
	t.Helper()
	product := models.Product{
		SKU:      sku,
		Name:     "Linen Shirt",
		Price:    decimal.RequireFromString("40.00"),
		Currency: "USD",
		Quantity: qty,
		IsActive: true,
	}
	require.NoError(t, conn.Create(&product).Error)
	return product
}

func seedVariant(t *testing.T, conn *gorm.DB, product models.Product, sku string, qty int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ProductID:         product.ID,
		SKU:               sku,
		Name:              "Blue / M",
		InventoryQuantity: qty,
	}
	require.NoError(t, conn.Create(&variant).Error)
	return variant
}

func reserve(t *testing.T, client *db.Client, ledger *Ledger, sku SKU, qty int) (Result, error) {
	t.Helper()
	var result Result
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		result, err = ledger.ReserveAndCommit(context.Background(), tx, sku, qty)
		return err
	})
	return result, err
}

func TestReserveAndCommitDecrementsVariantAndProductTotal(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()
	product := seedProduct(t, conn, "SHIRT", 8)
	variant := seedVariant(t, conn, product, "SHIRT-BLUE-M", 5)
	ledger := NewLedger(conn, nil, 0, nil)

	result, err := reserve(t, client, ledger, SKU{ProductID: product.ID, VariantID: &variant.ID}, 3)
	require.NoError(t, err)
	assert.Equal(t, "SHIRT-BLUE-M", result.SKU)
	assert.Equal(t, 2, result.Remaining)

	var reloaded models.ProductVariant
	require.NoError(t, conn.First(&reloaded, "id = ?", variant.ID).Error)
	assert.Equal(t, 2, reloaded.InventoryQuantity)

	var total models.Product
	require.NoError(t, conn.First(&total, "id = ?", product.ID).Error)
	assert.Equal(t, 5, total.Quantity)
}

func TestReserveAndCommitInsufficientStockLeavesRowUntouched(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()
	product := seedProduct(t, conn, "MUG", 2)
	ledger := NewLedger(conn, nil, 0, nil)

	_, err := reserve(t, client, ledger, SKU{ProductID: product.ID}, 3)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	shortage, ok := typed.Details().(Shortage)
	require.True(t, ok)
	assert.Equal(t, Shortage{SKU: "MUG", Requested: 3, Available: 2}, shortage)

	available, err := ledger.Available(context.Background(), SKU{ProductID: product.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestReserveAndCommitUnknownSKU(t *testing.T) {
	client := dbtest.Open(t)
	ledger := NewLedger(client.DB(), nil, 0, nil)

	_, err := reserve(t, client, ledger, SKU{ProductID: uuid.New()}, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	missingVariant := uuid.New()
	product := seedProduct(t, client.DB(), "CAP", 4)
	_, err = reserve(t, client, ledger, SKU{ProductID: product.ID, VariantID: &missingVariant}, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveAndCommitRejectsNonPositiveQuantity(t *testing.T) {
	client := dbtest.Open(t)
	product := seedProduct(t, client.DB(), "SOCK", 4)
	ledger := NewLedger(client.DB(), nil, 0, nil)

	_, err := reserve(t, client, ledger, SKU{ProductID: product.ID}, 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReserveAndCommitEmitsLowStockOnlyWhenCrossingThreshold(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()
	product := seedProduct(t, conn, "BELT", 7)
	events := &recordingEmitter{}
	ledger := NewLedger(conn, events, 5, nil)
	sku := SKU{ProductID: product.ID}

	result, err := reserve(t, client, ledger, sku, 1)
	require.NoError(t, err)
	assert.False(t, result.LowStock)

	result, err = reserve(t, client, ledger, sku, 2)
	require.NoError(t, err)
	assert.True(t, result.LowStock)
	assert.Equal(t, 4, result.Remaining)

	result, err = reserve(t, client, ledger, sku, 1)
	require.NoError(t, err)
	assert.False(t, result.LowStock, "already below threshold")

	require.Len(t, events.events, 1)
	assert.Equal(t, enums.EventInventoryLowStock, events.events[0].EventType)
	assert.Equal(t, product.ID, events.events[0].AggregateID)
}

func TestReleaseRestoresVariantAndProduct(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()
	product := seedProduct(t, conn, "COAT", 3)
	variant := seedVariant(t, conn, product, "COAT-BLACK-L", 3)
	ledger := NewLedger(conn, nil, 0, nil)
	sku := SKU{ProductID: product.ID, VariantID: &variant.ID}

	_, err := reserve(t, client, ledger, sku, 3)
	require.NoError(t, err)

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return ledger.Release(context.Background(), tx, sku, 3)
	}))

	available, err := ledger.Available(context.Background(), sku)
	require.NoError(t, err)
	assert.Equal(t, 3, available)

	var total models.Product
	require.NoError(t, conn.First(&total, "id = ?", product.ID).Error)
	assert.Equal(t, 3, total.Quantity)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	client := dbtest.Open(t)
	product := seedProduct(t, client.DB(), "LAST-ONE", 1)
	ledger := NewLedger(client.DB(), nil, 0, nil)
	sku := SKU{ProductID: product.ID}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		shortages int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
				_, err := ledger.ReserveAndCommit(context.Background(), tx, sku, 1)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, shortages)

	available, err := ledger.Available(context.Background(), sku)
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}
