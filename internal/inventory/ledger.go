// Package inventory owns the per-ticket available/total counters. Reserve and
// Release are single conditional updates executed inside the caller's scope, so
// concurrent reservations can never push available below zero.
package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("inventory")

type Ledger struct {
	store  store.Store
	logger observability.Logger
}

func NewLedger(s store.Store, logger observability.Logger) *Ledger {
	return &Ledger{store: s, logger: logger.WithField("component", "inventory")}
}

// Reserve takes qty units of a ticket. It fails with *domain.InsufficientInventoryError
// when fewer than qty units are available. Rejections are counted by the caller
// once its scope has rolled back.
func (l *Ledger) Reserve(ctx context.Context, tx store.TicketTx, ticketID uuid.UUID, qty int) (domain.Ticket, error) {
	ctx, span := tracer.Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.id", ticketID.String()), attribute.Int("quantity", qty))

	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Ticket{}, err
	}

	t, applied, err := tx.DecrementAvailable(ctx, ticketID, qty)
	if err != nil {
		span.RecordError(err)
		return domain.Ticket{}, errors.Wrapf(err, "reserve ticket %s", ticketID)
	}
	if !applied {
		span.SetStatus(codes.Error, "insufficient inventory")
		return t, &domain.InsufficientInventoryError{TicketID: ticketID, Requested: qty, Available: t.AvailableQuantity}
	}
	if !t.Consistent() {
		return t, l.violation(ticketID, t, "reserve")
	}

	tx.AfterCommit(func() { observability.Reservations.WithLabelValues("reserved").Inc() })
	return t, nil
}

// Release returns qty units to a ticket. Returning more than was ever taken is a
// consistency violation and aborts the scope.
func (l *Ledger) Release(ctx context.Context, tx store.TicketTx, ticketID uuid.UUID, qty int) (domain.Ticket, error) {
	ctx, span := tracer.Start(ctx, "inventory.release")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.id", ticketID.String()), attribute.Int("quantity", qty))

	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Ticket{}, err
	}

	t, applied, err := tx.IncrementAvailable(ctx, ticketID, qty)
	if err != nil {
		span.RecordError(err)
		return domain.Ticket{}, errors.Wrapf(err, "release ticket %s", ticketID)
	}
	if !applied {
		err := domain.ConsistencyViolationf("release of %d units on ticket %s would exceed total %d (available %d)",
			qty, ticketID, t.TotalQuantity, t.AvailableQuantity)
		observability.ConsistencyViolations.Inc()
		l.logger.WithError(err).WithFields(map[string]interface{}{
			"ticket_id": ticketID,
			"quantity":  qty,
			"available": t.AvailableQuantity,
			"total":     t.TotalQuantity,
		}).Error("inventory release rejected")
		span.SetStatus(codes.Error, "consistency violation")
		return t, err
	}
	if !t.Consistent() {
		return t, l.violation(ticketID, t, "release")
	}

	tx.AfterCommit(func() { observability.ReleasedUnits.Add(float64(qty)) })
	return t, nil
}

// StatusFor is a pure read of the ticket counters.
func (l *Ledger) StatusFor(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error) {
	var t domain.Ticket
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.GetTicket(ctx, ticketID)
		return err
	})
	return t, err
}

// AddTicket seeds a ticket type with all units available.
func (l *Ledger) AddTicket(ctx context.Context, name string, price decimal.Decimal, total int) (domain.Ticket, error) {
	t := domain.Ticket{
		ID:                uuid.New(),
		Name:              name,
		Price:             price,
		AvailableQuantity: total,
		TotalQuantity:     total,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := domain.ValidateTicket(t); err != nil {
		return domain.Ticket{}, err
	}
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTicket(ctx, t)
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	l.logger.WithFields(map[string]interface{}{"ticket_id": t.ID, "total": total}).Info("ticket added")
	return t, nil
}

func (l *Ledger) violation(ticketID uuid.UUID, t domain.Ticket, op string) error {
	err := domain.ConsistencyViolationf("ticket %s out of bounds after %s: available %d, total %d",
		ticketID, op, t.AvailableQuantity, t.TotalQuantity)
	observability.ConsistencyViolations.Inc()
	l.logger.WithError(err).Error("inventory invariant violated")
	return err
}
