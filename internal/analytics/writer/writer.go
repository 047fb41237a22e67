package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/modoria-backend/pkg/bigquery"
)

// Config controls batching and retries. Zero values pick the defaults.
type Config struct {
	OrderEventsTable string
	BatchSize        int
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = max(2*time.Second, c.BaseDelay)
	}
	return c
}

type rowPutter interface {
	Put(ctx context.Context, table string, rows []cbigquery.ValueSaver) error
}

// BigQueryWriter buffers order event rows and streams them to one table.
// Rows stay buffered after a transient failure so the next flush resends
// them, and the event id insert key lets BigQuery drop the duplicates.
// A permanent failure discards the batch.
type BigQueryWriter struct {
	client rowPutter
	table  string
	schema cbigquery.Schema
	cfg    Config
	sleep  func(context.Context, time.Duration) error

	mu      sync.Mutex
	pending []types.OrderEventRow
}

// Table describes the order events table for pkg/bigquery.EnsureTable.
func Table(name string) pkgbigquery.TableSpec {
	return pkgbigquery.TableSpec{
		Name:           strings.TrimSpace(name),
		Schema:         types.OrderEventsSchema(),
		PartitionField: "occurred_at",
	}
}

func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	return newWriter(client, cfg)
}

func newWriter(client rowPutter, cfg Config) (*BigQueryWriter, error) {
	table := strings.TrimSpace(cfg.OrderEventsTable)
	if table == "" {
		return nil, errors.New("order events table is required")
	}
	return &BigQueryWriter{
		client: client,
		table:  table,
		schema: types.OrderEventsSchema(),
		cfg:    cfg.withDefaults(),
		sleep:  sleepCtx,
	}, nil
}

// InsertOrderEvent queues row and flushes once a batch is full.
func (w *BigQueryWriter) InsertOrderEvent(ctx context.Context, row types.OrderEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, row)
	if len(w.pending) < w.cfg.BatchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	savers := make([]cbigquery.ValueSaver, len(w.pending))
	for i, row := range w.pending {
		savers[i] = row.Saver(w.schema)
	}

	delay := w.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err := w.client.Put(ctx, w.table, savers)
		if err == nil {
			w.pending = w.pending[:0]
			return nil
		}
		if !pkgbigquery.Retryable(err) {
			w.pending = w.pending[:0]
			return fmt.Errorf("insert %d rows into %s: %w", len(savers), w.table, err)
		}
		if attempt >= w.cfg.MaxAttempts {
			return fmt.Errorf("insert %d rows into %s after %d attempts: %w", len(savers), w.table, attempt, err)
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(2*delay, w.cfg.MaxDelay)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
