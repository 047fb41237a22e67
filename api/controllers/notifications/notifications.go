package notifications

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/modoria-backend/api/middleware"
	"github.com/angelmondragon/modoria-backend/api/responses"
	"github.com/angelmondragon/modoria-backend/api/validators"
	internalnotifications "github.com/angelmondragon/modoria-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

func recipientFromRequest(r *http.Request) (internalnotifications.Recipient, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return internalnotifications.Recipient{}, false
	}
	return internalnotifications.Recipient{UserID: principal.UserID, Role: string(principal.Role)}, true
}

// List returns the caller's inbox, newest first.
func List(svc internalnotifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient, ok := recipientFromRequest(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		page, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := internalnotifications.ListParams{
			Recipient: recipient,
			Limit:     page.Limit,
			Cursor:    page.Cursor,
		}

		if unread := strings.TrimSpace(r.URL.Query().Get("unread_only")); unread != "" {
			value, err := strconv.ParseBool(unread)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unread_only value"))
				return
			}
			params.UnreadOnly = value
		}

		resp, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

func MarkRead(svc internalnotifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient, ok := recipientFromRequest(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		notificationID, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.MarkRead(r.Context(), recipient, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

func MarkAllRead(svc internalnotifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient, ok := recipientFromRequest(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		updated, err := svc.MarkAllRead(r.Context(), recipient)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}
