package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/modoria-backend/pkg/config"
)

func TestClientOptions(t *testing.T) {
	require.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"}), 1)
	require.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}), 1)
	require.Empty(t, clientOptions(config.GCPConfig{CredentialsJSON: "  "}))
}

func TestMissingColumns(t *testing.T) {
	have := bigquery.Schema{{Name: "event_id"}, {Name: "Occurred_At"}}
	want := bigquery.Schema{{Name: "event_id"}, {Name: "occurred_at"}, {Name: "net_cents"}, {Name: "items"}}
	require.Equal(t, []string{"net_cents", "items"}, MissingColumns(have, want))
	require.Empty(t, MissingColumns(want, have[:1]))
}

func TestNilClient(t *testing.T) {
	var c *Client
	ctx := context.Background()
	require.Error(t, c.Ping(ctx))
	require.Error(t, c.EnsureTable(ctx, TableSpec{Name: "order_events"}))
	require.Error(t, c.Put(ctx, "order_events", nil))
	require.NoError(t, c.Close())
}

func TestRetryable(t *testing.T) {
	transientRow := bigquery.RowInsertionError{InsertID: "a", Errors: bigquery.MultiError{&bigquery.Error{Reason: "backendError"}}}
	invalidRow := bigquery.RowInsertionError{InsertID: "b", Errors: bigquery.MultiError{&bigquery.Error{Reason: "invalid"}}}

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"wrapped 429", fmt.Errorf("insert: %w", &googleapi.Error{Code: http.StatusTooManyRequests}), true},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"transient rows", bigquery.PutMultiError{transientRow}, true},
		{"mixed rows", bigquery.PutMultiError{transientRow, invalidRow}, false},
		{"empty rows", bigquery.PutMultiError{}, false},
		{"multi", bigquery.MultiError{&googleapi.Error{Code: http.StatusBadGateway}}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
