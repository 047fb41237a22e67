package coupons

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/modoria-backend/api/middleware"
	"github.com/angelmondragon/modoria-backend/api/responses"
	"github.com/angelmondragon/modoria-backend/api/validators"
	internalcoupons "github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

// cartReader supplies the subtotal when the client does not send one.
type cartReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
}

type validateRequest struct {
	Code     string           `json:"code" validate:"required,max=50"`
	Subtotal *decimal.Decimal `json:"subtotal"`
}

// createRequest is the admin payload. A PERCENT value is 0-100; a FIXED value
// is an amount in the store currency that is capped at the order subtotal,
// so it never produces a negative total.
type createRequest struct {
	Code           string           `json:"code" validate:"required,max=50"`
	DiscountType   string           `json:"discount_type" validate:"required,oneof=PERCENT FIXED percent fixed"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount"`
	ExpiryDate     *time.Time       `json:"expiry_date"`
	UsageLimit     *int             `json:"usage_limit" validate:"omitempty,min=1"`
}

type ValidationResponse struct {
	Valid         bool    `json:"valid"`
	Code          string  `json:"code"`
	Reason        string  `json:"reason,omitempty"`
	Message       string  `json:"message,omitempty"`
	DiscountType  string  `json:"discount_type,omitempty"`
	DiscountValue string  `json:"discount_value,omitempty"`
	Discount      string  `json:"discount"`
	Subtotal      string  `json:"subtotal"`
	MinOrder      *string `json:"min_order_amount,omitempty"`
}

type CouponResponse struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	DiscountType   string     `json:"discount_type"`
	DiscountValue  string     `json:"discount_value"`
	MinOrderAmount *string    `json:"min_order_amount,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	UsageLimit     *int       `json:"usage_limit,omitempty"`
	UsageCount     int        `json:"usage_count"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

func NewCouponResponse(c *models.Coupon) CouponResponse {
	resp := CouponResponse{
		ID:            c.ID.String(),
		Code:          c.Code,
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.DiscountValue.StringFixed(2),
		ExpiryDate:    c.ExpiryDate,
		UsageLimit:    c.UsageLimit,
		UsageCount:    c.UsageCount,
		IsActive:      c.IsActive,
		CreatedAt:     c.CreatedAt,
	}
	if c.MinOrderAmount != nil {
		minimum := c.MinOrderAmount.StringFixed(2)
		resp.MinOrderAmount = &minimum
	}
	return resp
}

// Validate previews a coupon against the given subtotal, or the caller's
// cart when none is sent. A rejected coupon is still a 200 with valid=false.
func Validate(svc internalcoupons.Service, carts cartReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req validateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var subtotal decimal.Decimal
		switch {
		case req.Subtotal != nil:
			if req.Subtotal.IsNegative() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "subtotal cannot be negative"))
				return
			}
			subtotal = *req.Subtotal
		case carts != nil:
			cart, err := carts.Get(r.Context(), principal.UserID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			subtotal = cart.Subtotal()
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "subtotal is required"))
			return
		}

		eval, err := svc.Validate(r.Context(), req.Code, subtotal, time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := ValidationResponse{
			Valid:    eval.Valid,
			Code:     internalcoupons.NormalizeCode(req.Code),
			Discount: eval.Discount.StringFixed(2),
			Subtotal: subtotal.StringFixed(2),
		}
		if !eval.Valid {
			resp.Reason = string(eval.Reason)
			resp.Message = eval.Reason.Message()
		}
		if eval.Coupon != nil && eval.Coupon.IsActive {
			resp.DiscountType = string(eval.Coupon.DiscountType)
			resp.DiscountValue = eval.Coupon.DiscountValue.StringFixed(2)
			if eval.Coupon.MinOrderAmount != nil {
				minimum := eval.Coupon.MinOrderAmount.StringFixed(2)
				resp.MinOrder = &minimum
			}
		}
		responses.WriteSuccess(w, resp)
	}
}

// Create registers a coupon (admin only). FIXED discounts larger than an
// order's subtotal only discount the subtotal.
func Create(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		coupon, err := svc.Create(r.Context(), internalcoupons.CreateInput{
			Code:           req.Code,
			DiscountType:   enums.DiscountType(strings.ToUpper(req.DiscountType)),
			DiscountValue:  req.DiscountValue,
			MinOrderAmount: req.MinOrderAmount,
			ExpiryDate:     req.ExpiryDate,
			UsageLimit:     req.UsageLimit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewCouponResponse(coupon))
	}
}

func List(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := types.ListResult[CouponResponse]{
			Items:      make([]CouponResponse, 0, len(list.Items)),
			NextCursor: list.NextCursor,
		}
		for i := range list.Items {
			out.Items = append(out.Items, NewCouponResponse(&list.Items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func Deactivate(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		couponID, err := validators.ParseUUIDParam(r, "couponId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Deactivate(r.Context(), couponID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		coupon, err := svc.Get(r.Context(), couponID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewCouponResponse(coupon))
	}
}
