package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultPendingOrderTTL = 24 * time.Hour
	defaultExpiryBatchSize = 100
	maxExpiryBatches       = 50
)

// OrderTTLJobParams configure the pending order expiry job.
type OrderTTLJobParams struct {
	Logger    *logger.Logger
	Orders    pendingOrderExpirer
	TTL       time.Duration
	BatchSize int
}

// pendingOrderExpirer cancels stale PENDING orders through the order state
// machine so stock is restored and events are emitted.
type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// NewOrderTTLJob builds the cron job that cancels abandoned pending orders.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &orderTTLJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		batch:  batch,
	}, nil
}

type orderTTLJob struct {
	logg   *logger.Logger
	orders pendingOrderExpirer
	ttl    time.Duration
	batch  int
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

// Run drains stale orders batch by batch. A short batch means the backlog is
// empty; a failed batch is recorded and the next one is still attempted.
func (j *orderTTLJob) Run(ctx context.Context) error {
	var (
		errs  error
		total int
	)
	for i := 0; i < maxExpiryBatches; i++ {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		cancelled, err := j.orders.ExpirePending(ctx, j.ttl, j.batch)
		total += cancelled
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire batch %d: %w", i+1, err))
			if cancelled == 0 {
				break
			}
			continue
		}
		if cancelled < j.batch {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"ttl":       j.ttl.String(),
		"cancelled": total,
		"errors":    len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return errs
}
