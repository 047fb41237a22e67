package inventory

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return conn, mock
}

func TestReserveUsesConditionalDecrements(t *testing.T) {
	conn, mock := newMockGorm(t)
	ledger := NewLedger(conn, nil, 0, nil)
	productID := uuid.New()
	variantID := uuid.New()

	mock.ExpectExec(`UPDATE product_variants\s+SET inventory_quantity = inventory_quantity - \$1,.*WHERE id = \$2 AND product_id = \$3 AND inventory_quantity >= \$4`).
		WithArgs(2, variantID, productID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products\s+SET quantity = quantity - \$1,.*WHERE id = \$2 AND quantity >= \$3`).
		WithArgs(2, productID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "id","sku","inventory_quantity" FROM "product_variants" WHERE id = \$1 AND product_id = \$2`).
		WithArgs(variantID, productID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "inventory_quantity"}).AddRow(variantID, "TEE-RED-M", 3))

	result, err := ledger.ReserveAndCommit(context.Background(), conn, SKU{ProductID: productID, VariantID: &variantID}, 2)
	require.NoError(t, err)
	require.Equal(t, 3, result.Remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStopsAfterVariantMiss(t *testing.T) {
	conn, mock := newMockGorm(t)
	ledger := NewLedger(conn, nil, 0, nil)
	productID := uuid.New()
	variantID := uuid.New()

	mock.ExpectExec(`UPDATE product_variants`).
		WithArgs(5, variantID, productID, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM "product_variants"`).
		WithArgs(variantID, productID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "inventory_quantity"}).AddRow(variantID, "TEE-RED-M", 4))

	_, err := ledger.ReserveAndCommit(context.Background(), conn, SKU{ProductID: productID, VariantID: &variantID}, 5)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	require.NoError(t, mock.ExpectationsWereMet(), "product total must not be touched after a variant miss")
}

func TestReleaseIncrementsBothCounters(t *testing.T) {
	conn, mock := newMockGorm(t)
	ledger := NewLedger(conn, nil, 0, nil)
	productID := uuid.New()
	variantID := uuid.New()

	mock.ExpectExec(`UPDATE product_variants\s+SET inventory_quantity = inventory_quantity \+ \$1`).
		WithArgs(4, variantID, productID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products\s+SET quantity = quantity \+ \$1`).
		WithArgs(4, productID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ledger.Release(context.Background(), conn, SKU{ProductID: productID, VariantID: &variantID}, 4))
	require.NoError(t, mock.ExpectationsWereMet())
}
