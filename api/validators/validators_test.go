package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
)

type sampleRequest struct {
	Quantity int    `json:"quantity" validate:"required,min=1"`
	Note     string `json:"note" validate:"max=5"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0,"note":"too long"}`))
	var dest sampleRequest
	err := DecodeJSONBody(req, &dest)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", pkgerrors.As(err).Details())
	}
	if details["quantity"] != "is required" || details["note"] != "must be at most 5" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"price":"0.01"}`))
	var dest sampleRequest
	if err := DecodeJSONBody(req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected unknown field to be rejected, got %v", err)
	}
}

func TestDecodeOptionalJSONBodyAcceptsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	var dest struct {
		Reason string `json:"reason" validate:"max=10"`
	}
	if err := DecodeOptionalJSONBody(req, &dest); err != nil {
		t.Fatalf("expected empty body to pass, got %v", err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", id.String())
	got, err := ParseUUIDParam(req, "orderId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}

	req = withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", "nope")
	if _, err := ParseUUIDParam(req, "orderId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParsePagination(t *testing.T) {
	params, err := ParsePagination(httptest.NewRequest(http.MethodGet, "/?limit=10", nil))
	if err != nil || params.Limit != 10 {
		t.Fatalf("unexpected params %+v (%v)", params, err)
	}
	if _, err := ParsePagination(httptest.NewRequest(http.MethodGet, "/?limit=500", nil)); err == nil {
		t.Fatal("expected out of range limit to fail")
	}
	if _, err := ParsePagination(httptest.NewRequest(http.MethodGet, "/?cursor=bm9wZQ==", nil)); err == nil {
		t.Fatal("expected malformed cursor to fail")
	}
}

func withParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}
