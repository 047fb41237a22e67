package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/pagination"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// Evaluation is the outcome of validating a coupon against a subtotal.
type Evaluation struct {
	Valid    bool
	Reason   enums.CouponRejection
	Coupon   *models.Coupon
	Discount decimal.Decimal
}

// Rejection is attached to COUPON_INVALID errors.
type Rejection struct {
	Code   string                `json:"code"`
	Reason enums.CouponRejection `json:"reason"`
}

// Err converts a failed evaluation into a COUPON_INVALID error.
func (e Evaluation) Err(code string) error {
	if e.Valid {
		return nil
	}
	return rejectionError(code, e.Reason)
}

// CreateInput carries the admin fields for a new coupon.
type CreateInput struct {
	Code           string
	DiscountType   enums.DiscountType
	DiscountValue  decimal.Decimal
	MinOrderAmount *decimal.Decimal
	ExpiryDate     *time.Time
	UsageLimit     *int
}

// Service validates, redeems and administers coupons.
type Service interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (Evaluation, error)
	Redeem(ctx context.Context, tx *gorm.DB, coupon *models.Coupon) error
	Create(ctx context.Context, input CreateInput) (*models.Coupon, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	List(ctx context.Context, params pagination.Params) (*types.ListResult[models.Coupon], error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds the coupon service.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, logg: logg}, nil
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon in a fixed order and stops at the first failure:
// not found or inactive, expired, usage limit, minimum order amount.
func (s *service) Validate(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (Evaluation, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Evaluation{Reason: enums.CouponRejectionNotFound}, nil
	}

	coupon, err := s.repo.FindActiveByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Evaluation{Reason: enums.CouponRejectionNotFound}, nil
		}
		return Evaluation{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}

	if reason, ok := Check(coupon, subtotal, now); !ok {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{"coupon": normalized, "reason": reason}), "coupon rejected")
		return Evaluation{Reason: reason, Coupon: coupon}, nil
	}

	return Evaluation{
		Valid:    true,
		Coupon:   coupon,
		Discount: CalculateDiscount(coupon, subtotal),
	}, nil
}

// Check applies the expiry, limit and minimum rules to a loaded coupon.
func Check(coupon *models.Coupon, subtotal decimal.Decimal, now time.Time) (enums.CouponRejection, bool) {
	if coupon == nil || !coupon.IsActive {
		return enums.CouponRejectionNotFound, false
	}
	if coupon.ExpiryDate != nil && now.After(*coupon.ExpiryDate) {
		return enums.CouponRejectionExpired, false
	}
	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return enums.CouponRejectionLimitReached, false
	}
	if coupon.MinOrderAmount != nil && subtotal.LessThan(*coupon.MinOrderAmount) {
		return enums.CouponRejectionMinNotMet, false
	}
	return "", true
}

// CalculateDiscount returns the discount for subtotal. Percentages round half
// up to cents; fixed amounts never exceed the subtotal.
func CalculateDiscount(coupon *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if coupon == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}
	switch coupon.DiscountType {
	case enums.DiscountTypePercent:
		return subtotal.Mul(coupon.DiscountValue).Div(hundred).Round(2)
	case enums.DiscountTypeFixed:
		if coupon.DiscountValue.GreaterThan(subtotal) {
			return subtotal
		}
		return coupon.DiscountValue
	default:
		return decimal.Zero
	}
}

// Redeem consumes one use inside tx. Losing the race for the last use surfaces
// as LIMIT_REACHED.
func (s *service) Redeem(ctx context.Context, tx *gorm.DB, coupon *models.Coupon) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for coupon redemption")
	}
	if coupon == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon required")
	}
	ok, err := s.repo.WithTx(tx).IncrementUsage(ctx, coupon.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redeem coupon")
	}
	if !ok {
		return rejectionError(coupon.Code, enums.CouponRejectionLimitReached)
	}
	return nil
}

// Create stores a new active coupon. A FIXED value may exceed future
// subtotals; CalculateDiscount caps it at redemption time.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Coupon, error) {
	code := NormalizeCode(input.Code)
	if code == "" || len(code) > 50 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code must be 1-50 characters")
	}
	if !input.DiscountType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount_type must be PERCENT or FIXED")
	}
	if !input.DiscountValue.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount_value must be positive")
	}
	if input.DiscountType == enums.DiscountTypePercent && input.DiscountValue.GreaterThan(hundred) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "percent discount cannot exceed 100")
	}
	if input.MinOrderAmount != nil && input.MinOrderAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min_order_amount cannot be negative")
	}
	if input.UsageLimit != nil && *input.UsageLimit < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage_limit must be at least 1")
	}

	exists, err := s.repo.ExistsByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check coupon code")
	}
	if exists {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("coupon with code %s already exists", code))
	}

	coupon := &models.Coupon{
		Code:           code,
		DiscountType:   input.DiscountType,
		DiscountValue:  input.DiscountValue,
		MinOrderAmount: input.MinOrderAmount,
		ExpiryDate:     input.ExpiryDate,
		UsageLimit:     input.UsageLimit,
		IsActive:       true,
	}
	if err := s.repo.Create(ctx, coupon); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("coupon with code %s already exists", code))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create coupon")
	}
	s.logg.Info(s.logg.WithField(ctx, "coupon", code), "coupon created")
	return coupon, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	return coupon, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*types.ListResult[models.Coupon], error) {
	rows, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pagination.ListError(err, "list coupons")
	}
	items, next := pagination.Page(rows, params.Limit, func(c models.Coupon) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
	return &types.ListResult[models.Coupon]{Items: items, NextCursor: next}, nil
}

// Deactivate hides the coupon from validation. Usage counts are kept.
func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate coupon")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	s.logg.Info(s.logg.WithField(ctx, "coupon_id", id.String()), "coupon deactivated")
	return nil
}

func rejectionError(code string, reason enums.CouponRejection) error {
	return pkgerrors.New(pkgerrors.CodeCouponInvalid, reason.Message()).
		WithDetails(Rejection{Code: NormalizeCode(code), Reason: reason})
}
