package address

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the saved shipping addresses of a user.
type Service interface {
	List(ctx context.Context, userID uuid.UUID) ([]models.Address, error)
	Create(ctx context.Context, userID uuid.UUID, input types.ShippingAddress, makeDefault bool) (*models.Address, error)
	Delete(ctx context.Context, userID, addressID uuid.UUID) error
	// Resolve returns a snapshot of the saved address after checking ownership.
	Resolve(ctx context.Context, tx *gorm.DB, userID, addressID uuid.UUID) (types.ShippingAddress, error)
}

type service struct {
	db *gorm.DB
	tx txRunner
}

func NewService(db *gorm.DB, tx txRunner) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{db: db, tx: tx}, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]models.Address, error) {
	var rows []models.Address
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list addresses")
	}
	return rows, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input types.ShippingAddress, makeDefault bool) (*models.Address, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	normalized := input.Normalize()
	if missing := normalized.MissingFields(); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address is incomplete").
			WithDetails(map[string]any{"missing": missing})
	}

	record := &models.Address{UserID: userID, Address: normalized, IsDefault: makeDefault}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if makeDefault {
			if err := tx.WithContext(ctx).Model(&models.Address{}).
				Where("user_id = ? AND is_default = ?", userID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.WithContext(ctx).Create(record).Error
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create address")
	}
	return record, nil
}

func (s *service) Delete(ctx context.Context, userID, addressID uuid.UUID) error {
	if _, err := s.load(ctx, s.db, userID, addressID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", addressID).Delete(&models.Address{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete address")
	}
	return nil
}

func (s *service) Resolve(ctx context.Context, tx *gorm.DB, userID, addressID uuid.UUID) (types.ShippingAddress, error) {
	conn := s.db
	if tx != nil {
		conn = tx
	}
	record, err := s.load(ctx, conn, userID, addressID)
	if err != nil {
		return types.ShippingAddress{}, err
	}
	return record.Address.Normalize(), nil
}

// load distinguishes a missing address from one owned by another user.
func (s *service) load(ctx context.Context, conn *gorm.DB, userID, addressID uuid.UUID) (*models.Address, error) {
	var record models.Address
	err := conn.WithContext(ctx).Where("id = ?", addressID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
	}
	if record.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "address does not belong to user")
	}
	return &record, nil
}

// Format renders the address on one line for e-mails and logs.
func Format(a types.ShippingAddress) string {
	parts := []string{strings.TrimSpace(a.FirstName + " " + a.LastName), a.Line1}
	if a.Line2 != nil {
		parts = append(parts, *a.Line2)
	}
	cityLine := strings.TrimSpace(strings.Join([]string{a.City, a.State, a.PostalCode}, " "))
	parts = append(parts, cityLine, a.Country)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
