package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the customer cart operations.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*models.Cart, error)
	UpdateItem(ctx context.Context, userID, lineID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, lineID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) (*models.Cart, error)

	// ForCheckout loads the user's cart inside tx without creating one.
	ForCheckout(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Cart, error)
	// ClearTx deletes every line of cartID inside tx.
	ClearTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
}

// AddItemInput identifies the SKU and quantity to add.
type AddItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

type service struct {
	repo     CartRepository
	tx       txRunner
	stock    stockReader
	currency string
	logg     *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, stock stockReader, currency string, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, fmt.Errorf("cart currency required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     repo,
		tx:       tx,
		stock:    stock,
		currency: currency,
		logg:     logg,
	}, nil
}

// Get returns the user's cart, creating an empty one on first access.
func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.getOrCreate(ctx, s.repo, userID)
}

func (s *service) getOrCreate(ctx context.Context, repo CartRepository, userID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	if err := repo.Create(ctx, &models.Cart{UserID: userID, Currency: s.currency}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	cart, err = repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}
	return cart, nil
}

// AddItem adds quantity of a SKU. An existing line for the same SKU keeps its
// original price snapshot and has its quantity increased.
func (s *service) AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if input.VariantID != nil && *input.VariantID == uuid.Nil {
		input.VariantID = nil
	}

	var cartID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.getOrCreate(ctx, repo, userID)
		if err != nil {
			return err
		}
		cartID = cart.ID

		product, variant, err := s.loadSKU(ctx, repo, input.ProductID, input.VariantID)
		if err != nil {
			return err
		}

		key := models.SKUKeyFor(product.ID, input.VariantID)
		line, err := repo.FindLineBySKU(ctx, cart.ID, key)
		switch {
		case err == nil:
			line.Quantity += input.Quantity
		case errors.Is(err, gorm.ErrRecordNotFound):
			line = &models.CartLine{
				CartID:          cart.ID,
				ProductID:       product.ID,
				VariantID:       input.VariantID,
				SKUKey:          key,
				Quantity:        input.Quantity,
				PriceAtAddition: models.EffectivePrice(*product, variant),
			}
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
		}

		if err := s.ensureStock(ctx, inventory.SKU{ProductID: product.ID, VariantID: input.VariantID}, line.Quantity); err != nil {
			return err
		}
		if err := repo.SaveLine(ctx, line); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart line")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":    userID.String(),
		"cart_id":    cartID.String(),
		"product_id": input.ProductID.String(),
		"quantity":   input.Quantity,
	})
	s.logg.Info(ctx, "cart item added")
	return s.reload(ctx, userID)
}

// UpdateItem sets the quantity of a line. Values below one are stored as one.
func (s *service) UpdateItem(ctx context.Context, userID, lineID uuid.UUID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		quantity = 1
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		line, err := s.ownedLine(ctx, repo, userID, lineID)
		if err != nil {
			return err
		}
		if err := s.ensureStock(ctx, inventory.SKU{ProductID: line.ProductID, VariantID: line.VariantID}, quantity); err != nil {
			return err
		}
		line.Quantity = quantity
		if err := repo.SaveLine(ctx, line); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, lineID uuid.UUID) (*models.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	removed, err := s.repo.DeleteLine(ctx, cart.ID, lineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart line")
	}
	if !removed {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return s.reload(ctx, userID)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteLines(ctx, cart.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"cart_id": cart.ID.String(), "removed": len(cart.Lines)}), "cart cleared")
	cart.Lines = nil
	return cart, nil
}

func (s *service) ForCheckout(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.WithTx(tx).FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Cart{UserID: userID, Currency: s.currency}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) ClearTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error {
	if err := s.repo.WithTx(tx).DeleteLines(ctx, cartID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

func (s *service) reload(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}
	return cart, nil
}

func (s *service) ownedLine(ctx context.Context, repo CartRepository, userID, lineID uuid.UUID) (*models.CartLine, error) {
	cart, err := repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	line, err := repo.FindLine(ctx, cart.ID, lineID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
	}
	return line, nil
}

func (s *service) loadSKU(ctx context.Context, repo CartRepository, productID uuid.UUID, variantID *uuid.UUID) (*models.Product, *models.ProductVariant, error) {
	product, err := repo.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if variantID == nil {
		return product, nil, nil
	}
	variant, err := repo.FindVariant(ctx, productID, *variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}
	return product, variant, nil
}

// ensureStock is advisory; the ledger re-checks atomically at checkout.
func (s *service) ensureStock(ctx context.Context, sku inventory.SKU, quantity int) error {
	available, err := s.stock.Available(ctx, sku)
	if err != nil {
		return err
	}
	if available < quantity {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock for requested quantity").
			WithDetails(inventory.Shortage{SKU: sku.String(), Requested: quantity, Available: available})
	}
	return nil
}
