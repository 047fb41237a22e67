package addresses

import (
	"net/http"
	"time"

	"github.com/angelmondragon/modoria-backend/api/middleware"
	"github.com/angelmondragon/modoria-backend/api/responses"
	"github.com/angelmondragon/modoria-backend/api/validators"
	"github.com/angelmondragon/modoria-backend/internal/address"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

type createRequest struct {
	FirstName  string  `json:"first_name" validate:"required,max=100"`
	LastName   string  `json:"last_name" validate:"required,max=100"`
	Line1      string  `json:"line1" validate:"required,max=255"`
	Line2      *string `json:"line2" validate:"omitempty,max=255"`
	City       string  `json:"city" validate:"required,max=100"`
	State      string  `json:"state" validate:"required,max=100"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	Country    string  `json:"country" validate:"omitempty,len=2"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	IsDefault  bool    `json:"is_default"`
}

type AddressResponse struct {
	ID        string                `json:"id"`
	Address   types.ShippingAddress `json:"address"`
	IsDefault bool                  `json:"is_default"`
	CreatedAt time.Time             `json:"created_at"`
}

func newAddressResponse(a *models.Address) AddressResponse {
	return AddressResponse{
		ID:        a.ID.String(),
		Address:   a.Address,
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
	}
}

func List(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		rows, err := svc.List(r.Context(), principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]AddressResponse, 0, len(rows))
		for i := range rows {
			out = append(out, newAddressResponse(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func Create(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		saved, err := svc.Create(r.Context(), principal.UserID, types.ShippingAddress{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Line1:      req.Line1,
			Line2:      req.Line2,
			City:       req.City,
			State:      req.State,
			PostalCode: req.PostalCode,
			Country:    req.Country,
			Phone:      req.Phone,
		}, req.IsDefault)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newAddressResponse(saved))
	}
}

func Delete(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		addressID, err := validators.ParseUUIDParam(r, "addressId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), principal.UserID, addressID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": addressID.String()})
	}
}
