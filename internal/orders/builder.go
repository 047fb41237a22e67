package orders

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

const maxCustomerNotes = 1000

// PlaceOrder converts the user's cart into a PENDING order. Stock, coupon
// usage, the order rows and the cart clear commit together or not at all; a
// failed reservation on any line undoes the ones before it through rollback.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	inline, err := s.validateInlineShipping(input.Shipping)
	if err != nil {
		return nil, err
	}
	notes := s.sanitizeNotes(input.CustomerNotes)

	ctx = s.logg.WithUserID(ctx, input.UserID.String())
	var placed *models.Order

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		cart, err := s.carts.ForCheckout(ctx, tx, input.UserID)
		if err != nil {
			return err
		}
		if input.CartID != nil && cart.ID != *input.CartID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		if len(cart.Lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeCartEmpty, "cart is empty")
		}

		codes := make([]string, len(cart.Lines))
		for i, line := range cart.Lines {
			result, err := s.stock.ReserveAndCommit(ctx, tx, inventory.SKU{ProductID: line.ProductID, VariantID: line.VariantID}, line.Quantity)
			if err != nil {
				return err
			}
			codes[i] = result.SKU
		}

		subtotal := cart.Subtotal()
		discount := decimal.Zero
		var couponCode *string
		if input.CouponCode != nil && strings.TrimSpace(*input.CouponCode) != "" {
			eval, err := s.coupons.Validate(ctx, *input.CouponCode, subtotal, now)
			if err != nil {
				return err
			}
			if !eval.Valid {
				return eval.Err(*input.CouponCode)
			}
			if err := s.coupons.Redeem(ctx, tx, eval.Coupon); err != nil {
				return err
			}
			discount = eval.Discount
			code := eval.Coupon.Code
			couponCode = &code
		}

		shipping, err := s.resolveShipping(ctx, tx, input.UserID, input.Shipping, inline)
		if err != nil {
			return err
		}

		tax := s.pricing.Tax(subtotal, discount)
		shippingAmount := s.pricing.Shipping(subtotal)
		currency := cart.Currency
		if currency == "" {
			currency = s.currency
		}

		order := &models.Order{
			UserID:            input.UserID,
			UserEmail:         strings.TrimSpace(input.UserEmail),
			Status:            enums.OrderStatusPending,
			Subtotal:          subtotal,
			DiscountAmount:    discount,
			TaxAmount:         tax,
			ShippingAmount:    shippingAmount,
			TotalAmount:       models.ComputeTotal(subtotal, tax, shippingAmount, discount),
			Currency:          currency,
			AppliedCouponCode: couponCode,
			CustomerNotes:     notes,
			ShippingAddress:   shipping,
		}
		if err := s.insertWithUniqueNumber(ctx, tx, repo, order, now); err != nil {
			return err
		}

		lines, err := s.buildLines(ctx, repo, order.ID, cart.Lines, codes)
		if err != nil {
			return err
		}
		if err := repo.CreateLines(ctx, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order lines")
		}
		order.Lines = lines

		if err := s.carts.ClearTx(ctx, tx, cart.ID); err != nil {
			return err
		}

		s.emitBestEffort(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.UserRoleCustomer)},
			OccurredAt:    now,
			Data:          placedEvent(order, now),
		})

		placed = order
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			s.metrics.IncPlacementError(string(typed.Code()))
		} else {
			s.metrics.IncPlacementError(string(pkgerrors.CodeInternal))
		}
		return nil, err
	}

	s.metrics.IncOrdersPlaced()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":     placed.ID.String(),
		"order_number": placed.OrderNumber,
		"total":        placed.TotalAmount.StringFixed(2),
	})
	s.logg.Info(ctx, "order placed")
	return placed, nil
}

// insertWithUniqueNumber retries the insert with a fresh number when the
// unique index rejects a collision. The savepoint keeps earlier writes of the
// transaction intact across retries.
func (s *service) insertWithUniqueNumber(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, now time.Time) error {
	const savepoint = "order_number"
	for attempt := 1; attempt <= maxOrderNumberTries; attempt++ {
		order.OrderNumber = s.numbers(now)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create savepoint")
		}
		err := repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback savepoint")
		}
		if !isOrderNumberCollision(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"order_number": order.OrderNumber,
			"attempt":      attempt,
		}), "order number collision")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
}

func (s *service) buildLines(ctx context.Context, repo Repository, orderID uuid.UUID, cartLines []models.CartLine, codes []string) ([]models.OrderLine, error) {
	productIDs := make([]uuid.UUID, 0, len(cartLines))
	variantIDs := make([]uuid.UUID, 0, len(cartLines))
	for _, line := range cartLines {
		productIDs = append(productIDs, line.ProductID)
		if line.VariantID != nil {
			variantIDs = append(variantIDs, *line.VariantID)
		}
	}
	products, variants, err := repo.LoadCatalog(ctx, productIDs, variantIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog")
	}

	lines := make([]models.OrderLine, 0, len(cartLines))
	for i, line := range cartLines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
		orderLine := models.OrderLine{
			OrderID:     orderID,
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			SKU:         codes[i],
			ProductName: product.Name,
			UnitPrice:   line.PriceAtAddition,
			Quantity:    line.Quantity,
			Subtotal:    line.LineTotal(),
		}
		if line.VariantID != nil {
			if variant, ok := variants[*line.VariantID]; ok {
				name := variant.Name
				orderLine.VariantName = &name
			}
		}
		lines = append(lines, orderLine)
	}
	return lines, nil
}

func (s *service) validateInlineShipping(sel ShippingSelection) (*types.ShippingAddress, error) {
	if sel.SavedAddressID != nil && *sel.SavedAddressID != uuid.Nil {
		return nil, nil
	}
	if sel.Address == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	normalized := sel.Address.Normalize()
	if missing := normalized.MissingFields(); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	return &normalized, nil
}

func (s *service) resolveShipping(ctx context.Context, tx *gorm.DB, userID uuid.UUID, sel ShippingSelection, inline *types.ShippingAddress) (types.ShippingAddress, error) {
	if inline != nil {
		return *inline, nil
	}
	return s.addresses.Resolve(ctx, tx, userID, *sel.SavedAddressID)
}

func (s *service) sanitizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	clean := strings.TrimSpace(s.notes.Sanitize(*notes))
	if clean == "" {
		return nil
	}
	if utf8.RuneCountInString(clean) > maxCustomerNotes {
		clean = strings.TrimSpace(string([]rune(clean)[:maxCustomerNotes]))
	}
	return &clean
}

func placedEvent(order *models.Order, now time.Time) payloads.OrderPlacedEvent {
	lines := make([]payloads.OrderLineSummary, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, payloads.OrderLineSummary{
			SKU:         line.SKU,
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
		})
	}
	return payloads.OrderPlacedEvent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		UserEmail:      order.UserEmail,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		TaxAmount:      order.TaxAmount,
		ShippingAmount: order.ShippingAmount,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		CouponCode:     order.AppliedCouponCode,
		Lines:          lines,
		PlacedAt:       now,
	}
}

var _ couponEvaluator = (coupons.Service)(nil)
