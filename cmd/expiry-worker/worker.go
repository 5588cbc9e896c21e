package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
)

const lockName = "expiry-worker"

// Locker keeps two worker replicas from sweeping at the same time.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

type ExpiryWorker struct {
	engine    *orders.Engine
	lock      Locker
	logger    observability.Logger
	owner     string
	ttl       time.Duration
	batchSize int
}

func NewExpiryWorker(engine *orders.Engine, lock Locker, logger observability.Logger, ttl time.Duration, batchSize int) *ExpiryWorker {
	return &ExpiryWorker{
		engine:    engine,
		lock:      lock,
		logger:    logger.WithField("component", "expiry"),
		owner:     uuid.NewString(),
		ttl:       ttl,
		batchSize: batchSize,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	w.logger.Info("Expiry worker started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx, interval); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// Sweep cancels stale pending orders while holding the worker lock. It returns
// zero without error when another replica holds the lock.
func (w *ExpiryWorker) Sweep(ctx context.Context, lease time.Duration) (int, error) {
	ok, err := w.lock.AcquireLock(ctx, lockName, w.owner, lease)
	if err != nil {
		return 0, err
	}
	if !ok {
		w.logger.Debug("expiry lock held elsewhere, skipping sweep")
		return 0, nil
	}
	defer func() {
		if err := w.lock.ReleaseLock(context.WithoutCancel(ctx), lockName, w.owner); err != nil {
			w.logger.WithError(err).Warn("failed to release expiry lock")
		}
	}()

	total := 0
	for {
		n, err := w.engine.ExpireStale(ctx, w.ttl, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			return total, nil
		}
	}
}
