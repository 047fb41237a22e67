package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

// SKU identifies a stock-keeping unit: a product, optionally narrowed to a variant.
type SKU struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
}

func (s SKU) hasVariant() bool {
	return s.VariantID != nil && *s.VariantID != uuid.Nil
}

func (s SKU) String() string {
	if s.hasVariant() {
		return fmt.Sprintf("%s/%s", s.ProductID, *s.VariantID)
	}
	return s.ProductID.String()
}

// Result reports the stock left on the decremented row.
type Result struct {
	SKU       string
	Remaining int
	LowStock  bool
}

// Shortage is attached to INSUFFICIENT_STOCK errors.
type Shortage struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Ledger is the single writer of product and variant stock counters. Every
// mutation is one conditional UPDATE so concurrent reservations on the same
// row serialize on the row lock and stock never goes negative.
type Ledger struct {
	db        *gorm.DB
	events    outbox.Emitter
	threshold int
	logg      *logger.Logger
}

// NewLedger wires the ledger. events may be nil to disable low-stock alerts.
func NewLedger(conn *gorm.DB, events outbox.Emitter, lowStockThreshold int, logg *logger.Logger) *Ledger {
	return &Ledger{db: conn, events: events, threshold: lowStockThreshold, logg: logg}
}

// ReserveAndCommit decrements stock for sku inside tx. Zero rows matched means
// the SKU is missing or short; nothing is written in either case.
func (l *Ledger) ReserveAndCommit(ctx context.Context, tx *gorm.DB, sku SKU, qty int) (Result, error) {
	if tx == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	if qty <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	tx = tx.WithContext(ctx)

	if sku.hasVariant() {
		res := tx.Exec(`
			UPDATE product_variants
			SET inventory_quantity = inventory_quantity - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND product_id = ? AND inventory_quantity >= ?
		`, qty, *sku.VariantID, sku.ProductID, qty)
		if res.Error != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve variant inventory")
		}
		if res.RowsAffected == 0 {
			return Result{}, l.explainVariantMiss(tx, sku, qty)
		}
	}

	res := tx.Exec(`
		UPDATE products
		SET quantity = quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity >= ?
	`, qty, sku.ProductID, qty)
	if res.Error != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve product inventory")
	}
	if res.RowsAffected == 0 {
		return Result{}, l.explainProductMiss(tx, sku, qty)
	}

	code, remaining, err := l.readStock(tx, sku)
	if err != nil {
		return Result{}, err
	}

	result := Result{SKU: code, Remaining: remaining}
	if l.threshold > 0 && remaining+qty >= l.threshold && remaining < l.threshold {
		result.LowStock = true
		if err := l.emitLowStock(ctx, tx, sku, code, remaining); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// Release adds qty back to the variant and the product total.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, sku SKU, qty int) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}
	tx = tx.WithContext(ctx)

	if sku.hasVariant() {
		res := tx.Exec(`
			UPDATE product_variants
			SET inventory_quantity = inventory_quantity + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND product_id = ?
		`, qty, *sku.VariantID, sku.ProductID)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release variant inventory")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").WithDetails(map[string]any{"sku": sku.String()})
		}
	}

	res := tx.Exec(`
		UPDATE products
		SET quantity = quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, sku.ProductID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release product inventory")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").WithDetails(map[string]any{"sku": sku.String()})
	}
	return nil
}

// Available returns the sellable quantity for sku without locking.
func (l *Ledger) Available(ctx context.Context, sku SKU) (int, error) {
	_, remaining, err := l.readStock(l.db.WithContext(ctx), sku)
	return remaining, err
}

func (l *Ledger) readStock(tx *gorm.DB, sku SKU) (string, int, error) {
	if sku.hasVariant() {
		var variant models.ProductVariant
		err := tx.Select("id", "sku", "inventory_quantity").
			Where("id = ? AND product_id = ?", *sku.VariantID, sku.ProductID).
			First(&variant).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", 0, notFound(sku)
			}
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant stock")
		}
		return variant.SKU, variant.InventoryQuantity, nil
	}

	var product models.Product
	err := tx.Select("id", "sku", "quantity").Where("id = ?", sku.ProductID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, notFound(sku)
		}
		return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
	}
	return product.SKU, product.Quantity, nil
}

func (l *Ledger) explainVariantMiss(tx *gorm.DB, sku SKU, qty int) error {
	code, available, err := l.readStock(tx, sku)
	if err != nil {
		return err
	}
	return insufficient(code, qty, available)
}

// explainProductMiss runs after the variant row already matched, so a miss
// here means the product total disagrees with the variant counters.
func (l *Ledger) explainProductMiss(tx *gorm.DB, sku SKU, qty int) error {
	var product models.Product
	err := tx.Select("id", "sku", "quantity").Where("id = ?", sku.ProductID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(sku)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
	}
	return insufficient(product.SKU, qty, product.Quantity)
}

func (l *Ledger) emitLowStock(ctx context.Context, tx *gorm.DB, sku SKU, code string, remaining int) error {
	if l.events == nil {
		return nil
	}
	if l.logg != nil {
		l.logg.Warn(l.logg.WithFields(ctx, map[string]any{"sku": code, "remaining": remaining}), "inventory below low-stock threshold")
	}
	return l.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInventoryLowStock,
		AggregateType: enums.AggregateProduct,
		AggregateID:   sku.ProductID,
		Data: payloads.InventoryLowStockEvent{
			ProductID: sku.ProductID,
			VariantID: sku.VariantID,
			SKU:       code,
			Remaining: remaining,
			Threshold: l.threshold,
		},
	})
}

func notFound(sku SKU) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "sku not found").WithDetails(map[string]any{"sku": sku.String()})
}

func insufficient(code string, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("insufficient stock for %s", code)).
		WithDetails(Shortage{SKU: code, Requested: requested, Available: available})
}
