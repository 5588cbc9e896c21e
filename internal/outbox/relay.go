// Package outbox moves committed domain events from the outbox table to the
// configured broker. Delivery is at least once; consumers dedupe on the message id.
package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/store"
)

type Sink interface {
	Publish(ctx context.Context, rec domain.OutboxRecord) error
}

// Auditor keeps a copy of every relayed event. Audit failures never block relaying.
type Auditor interface {
	Record(ctx context.Context, rec domain.OutboxRecord) error
}

type Relay struct {
	source    store.OutboxSource
	sink      Sink
	auditor   Auditor
	logger    observability.Logger
	batchSize int
	retries   uint64
}

func NewRelay(source store.OutboxSource, sink Sink, auditor Auditor, logger observability.Logger, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{
		source:    source,
		sink:      sink,
		auditor:   auditor,
		logger:    logger.WithField("component", "outbox"),
		batchSize: batchSize,
		retries:   3,
	}
}

func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.logger.Info("Outbox relay started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("outbox relay failed")
			}
			if n > 0 {
				r.logger.WithField("published", n).Debug("outbox batch relayed")
			}
		}
	}
}

// RelayOnce publishes one batch in creation order and stops at the first record
// that cannot be delivered, so later events never overtake it.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.source.GetUnpublishedOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "load outbox")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		if err := r.publish(ctx, rec); err != nil {
			return published, errors.Wrapf(err, "publish outbox record %s", rec.ID)
		}
		if r.auditor != nil {
			if err := r.auditor.Record(ctx, rec); err != nil {
				r.logger.WithError(err).WithField("outbox_id", rec.ID).Warn("audit record failed")
			}
		}
		if err := r.source.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			return published, errors.Wrapf(err, "mark outbox record %s", rec.ID)
		}
		published++
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, rec domain.OutboxRecord) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond

	return backoff.RetryNotify(func() error {
		return r.sink.Publish(ctx, rec)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.retries), ctx), func(err error, wait time.Duration) {
		observability.EventPublishRetries.Inc()
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"event_type": rec.EventType,
			"retry_in":   wait.String(),
		}).Warn("event publish failed, retrying")
	})
}
