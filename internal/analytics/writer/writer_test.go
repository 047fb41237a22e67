package writer

import (
	"context"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/modoria-backend/pkg/bigquery"
)

type putCall struct {
	table     string
	insertIDs []string
}

type fakePutter struct {
	results []error
	calls   []putCall
}

func (f *fakePutter) Put(_ context.Context, table string, rows []cbigquery.ValueSaver) error {
	call := putCall{table: table}
	for _, row := range rows {
		_, insertID, err := row.Save()
		if err != nil {
			return err
		}
		call.insertIDs = append(call.insertIDs, insertID)
	}
	f.calls = append(f.calls, call)
	if n := len(f.calls) - 1; n < len(f.results) {
		return f.results[n]
	}
	return nil
}

func newTestWriter(t *testing.T, cfg Config) (*BigQueryWriter, *fakePutter, *[]time.Duration) {
	t.Helper()
	fake := &fakePutter{}
	if cfg.OrderEventsTable == "" {
		cfg.OrderEventsTable = "order_events"
	}
	w, err := newWriter(fake, cfg)
	require.NoError(t, err)
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return w, fake, &slept
}

func row(id string) types.OrderEventRow {
	return types.OrderEventRow{
		EventID:    id,
		EventType:  "order_paid",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		OrderID:    "0195c4d1-6f3a-7a10-9c1e-2b8f1a7d0001",
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{OrderEventsTable: "order_events"})
	require.Error(t, err)
	_, err = newWriter(&fakePutter{}, Config{OrderEventsTable: " "})
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 1, cfg.BatchSize)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	require.Equal(t, 2*time.Second, cfg.MaxDelay)

	cfg = Config{BaseDelay: 5 * time.Second}.withDefaults()
	require.Equal(t, 5*time.Second, cfg.MaxDelay)
}

func TestInsertUsesEventIDAsInsertKey(t *testing.T) {
	w, fake, _ := newTestWriter(t, Config{})
	require.NoError(t, w.InsertOrderEvent(context.Background(), row("evt-1")))
	require.Len(t, fake.calls, 1)
	require.Equal(t, "order_events", fake.calls[0].table)
	require.Equal(t, []string{"evt-1"}, fake.calls[0].insertIDs)
}

func TestRetriesTransientErrorsWithBackoff(t *testing.T) {
	w, fake, slept := newTestWriter(t, Config{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond})
	unavailable := status.Error(codes.Unavailable, "down")
	fake.results = []error{unavailable, &googleapi.Error{Code: http.StatusServiceUnavailable}, unavailable}

	require.NoError(t, w.InsertOrderEvent(context.Background(), row("evt-1")))
	require.Len(t, fake.calls, 4)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond, 15 * time.Millisecond}, *slept)
	require.Empty(t, w.pending)
}

func TestPermanentErrorDropsBatch(t *testing.T) {
	w, fake, slept := newTestWriter(t, Config{})
	fake.results = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	require.Error(t, w.InsertOrderEvent(context.Background(), row("evt-1")))
	require.Len(t, fake.calls, 1)
	require.Empty(t, *slept)
	require.Empty(t, w.pending)

	require.NoError(t, w.InsertOrderEvent(context.Background(), row("evt-2")))
	require.Equal(t, []string{"evt-2"}, fake.calls[1].insertIDs)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	w, fake, _ := newTestWriter(t, Config{})
	unavailable := status.Error(codes.Unavailable, "down")
	fake.results = []error{unavailable, unavailable, unavailable}

	require.Error(t, w.InsertOrderEvent(context.Background(), row("evt-1")))
	require.Len(t, fake.calls, 3)
	require.Len(t, w.pending, 1)

	require.NoError(t, w.Flush(context.Background()))
	require.Equal(t, []string{"evt-1"}, fake.calls[3].insertIDs)
}

func TestBatching(t *testing.T) {
	w, fake, _ := newTestWriter(t, Config{BatchSize: 2})
	ctx := context.Background()

	require.NoError(t, w.InsertOrderEvent(ctx, row("evt-1")))
	require.Empty(t, fake.calls)
	require.NoError(t, w.InsertOrderEvent(ctx, row("evt-2")))
	require.Len(t, fake.calls, 1)
	require.Equal(t, []string{"evt-1", "evt-2"}, fake.calls[0].insertIDs)

	require.NoError(t, w.InsertOrderEvent(ctx, row("evt-3")))
	require.NoError(t, w.Flush(ctx))
	require.Len(t, fake.calls, 2)
	require.NoError(t, w.Flush(ctx))
	require.Len(t, fake.calls, 2, "empty flush must not call BigQuery")
}

func TestTableSpec(t *testing.T) {
	def := Table(" order_events ")
	require.Equal(t, "order_events", def.Name)
	require.Equal(t, "occurred_at", def.PartitionField)
	require.Empty(t, pkgbigquery.MissingColumns(def.Schema, types.OrderEventsSchema()))
}
