// Package payments records payment transactions against orders. It never talks
// to a payment gateway; callers report outcomes through UpdateStatus.
package payments

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
	"github.com/robertarktes/ticket-commerce/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("payments")

type Ledger struct {
	store        store.Store
	orders       *orders.Engine
	logger       observability.Logger
	allowPartial bool
	now          func() time.Time
}

type Option func(*Ledger)

// WithPartialPayments accepts amounts below the order total. Without it the
// amount must match the total exactly.
func WithPartialPayments(allow bool) Option {
	return func(l *Ledger) { l.allowPartial = allow }
}

func NewLedger(s store.Store, engine *orders.Engine, logger observability.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  s,
		orders: engine,
		logger: logger.WithField("component", "payments"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create records a pending transaction for a pending order. Active transactions
// of an order never add up to more than its total.
func (l *Ledger) Create(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, paymentMethod string) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "payments.create", trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	if err := domain.ValidateAmount(amount); err != nil {
		return domain.Transaction{}, err
	}

	var txn domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.IsPending() {
			return domain.IllegalStatef("order %s is %s, payments can only be recorded while pending", orderID, order.Status)
		}
		if err := l.checkAmount(order, amount); err != nil {
			return err
		}

		existing, err := tx.ListTransactions(ctx, orderID)
		if err != nil {
			return err
		}
		if active := activeAmount(existing); active.Add(amount).GreaterThan(order.TotalAmount) {
			return domain.IllegalStatef("order %s already has %s in active payments against a total of %s",
				orderID, active.StringFixed(2), order.TotalAmount.StringFixed(2))
		}

		now := l.now()
		txn = domain.NewTransaction(orderID, amount, paymentMethod, now)
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return errors.Wrap(err, "insert transaction")
		}
		return emit(ctx, tx, txn, domain.EventTransactionCreated, now)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Transaction{}, err
	}

	l.logger.WithFields(map[string]interface{}{
		"transaction_id": txn.ID,
		"reference":      txn.Reference,
		"order_id":       orderID,
		"amount":         amount.StringFixed(2),
	}).Info("transaction recorded")
	return txn, nil
}

func (l *Ledger) checkAmount(order domain.Order, amount decimal.Decimal) error {
	if l.allowPartial {
		if amount.GreaterThan(order.TotalAmount) {
			return domain.Validationf("amount %s exceeds order total %s", amount.StringFixed(2), order.TotalAmount.StringFixed(2))
		}
		return nil
	}
	if !amount.Equal(order.TotalAmount) {
		return domain.Validationf("amount %s does not match order total %s", amount.StringFixed(2), order.TotalAmount.StringFixed(2))
	}
	return nil
}

func activeAmount(txns []domain.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txns {
		if t.Status == domain.TransactionPending || t.Status == domain.TransactionSuccess {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

// UpdateStatus applies a reported payment outcome. Success confirms the order
// once; failure cancels a still pending order that has no other successful
// payment; refunded goes through Refund.
func (l *Ledger) UpdateStatus(ctx context.Context, txID uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "payments.update_status",
		trace.WithAttributes(attribute.String("transaction.id", txID.String()), attribute.String("transaction.status", string(status))))
	defer span.End()

	var txn domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if status == domain.TransactionRefunded {
			txn, err = l.refundTx(ctx, tx, txID)
			return err
		}
		txn, err = l.transition(ctx, tx, txID, status)
		if err != nil {
			return err
		}

		switch status {
		case domain.TransactionSuccess:
			return l.confirmOrder(ctx, tx, txn)
		case domain.TransactionFailed:
			return l.cancelUnpaidOrder(ctx, tx, txn)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (l *Ledger) transition(ctx context.Context, tx store.Tx, txID uuid.UUID, status domain.TransactionStatus) (domain.Transaction, error) {
	txn, err := tx.GetTransaction(ctx, txID)
	if err != nil {
		return domain.Transaction{}, err
	}
	from := txn.Status
	if !from.CanTransitionTo(status) {
		return domain.Transaction{}, domain.IllegalTransitionf("transaction %s cannot move from %s to %s", txID, from, status)
	}

	now := l.now()
	ok, err := tx.CompareAndSetTransactionStatus(ctx, txID, from, status, now)
	if err != nil {
		return domain.Transaction{}, errors.Wrapf(err, "update transaction %s status", txID)
	}
	if !ok {
		return domain.Transaction{}, domain.IllegalTransitionf("transaction %s is no longer %s", txID, from)
	}
	txn.Status = status
	txn.UpdatedAt = now

	if err := emit(ctx, tx, txn, domain.TransactionStatusEvent(status), now); err != nil {
		return domain.Transaction{}, err
	}
	tx.AfterCommit(func() {
		observability.TransactionTransitions.WithLabelValues(string(from), string(status)).Inc()
		l.logger.WithFields(map[string]interface{}{
			"transaction_id": txID,
			"from":           from,
			"to":             status,
		}).Info("transaction status changed")
	})
	return txn, nil
}

func (l *Ledger) confirmOrder(ctx context.Context, tx store.Tx, txn domain.Transaction) error {
	order, err := tx.GetOrder(ctx, txn.OrderID)
	if err != nil {
		return err
	}
	if order.IsConfirmed() {
		l.logger.WithField("order_id", order.ID).Debug("order already confirmed")
		return nil
	}
	if _, err := l.orders.UpdateStatusTx(ctx, tx, order.ID, domain.OrderConfirmed); err != nil {
		return errors.Wrapf(err, "confirm order %s for transaction %s", order.ID, txn.ID)
	}
	return nil
}

func (l *Ledger) cancelUnpaidOrder(ctx context.Context, tx store.Tx, txn domain.Transaction) error {
	order, err := tx.GetOrder(ctx, txn.OrderID)
	if err != nil {
		return err
	}
	if !order.IsPending() {
		return nil
	}
	siblings, err := tx.ListTransactions(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID != txn.ID && s.Status == domain.TransactionSuccess {
			return nil
		}
	}
	if _, err := l.orders.UpdateStatusTx(ctx, tx, order.ID, domain.OrderCancelled); err != nil {
		return errors.Wrapf(err, "cancel order %s after failed transaction %s", order.ID, txn.ID)
	}
	return nil
}

// Refund marks a successful transaction refunded and returns the order's stock.
// The order status is left as it is.
func (l *Ledger) Refund(ctx context.Context, txID uuid.UUID) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "payments.refund", trace.WithAttributes(attribute.String("transaction.id", txID.String())))
	defer span.End()

	var txn domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		txn, err = l.refundTx(ctx, tx, txID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (l *Ledger) refundTx(ctx context.Context, tx store.Tx, txID uuid.UUID) (domain.Transaction, error) {
	current, err := tx.GetTransaction(ctx, txID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if current.Status != domain.TransactionSuccess {
		return domain.Transaction{}, domain.IllegalTransitionf("transaction %s is %s, only successful transactions can be refunded", txID, current.Status)
	}
	txn, err := l.transition(ctx, tx, txID, domain.TransactionRefunded)
	if err != nil {
		return domain.Transaction{}, err
	}

	order, err := tx.GetOrder(ctx, txn.OrderID)
	if err != nil {
		return domain.Transaction{}, err
	}
	siblings, err := tx.ListTransactions(ctx, order.ID)
	if err != nil {
		return domain.Transaction{}, err
	}
	for _, s := range siblings {
		if s.ID != txn.ID && s.Status == domain.TransactionSuccess {
			return txn, nil
		}
	}
	released, err := l.orders.ReleaseStockTx(ctx, tx, &order)
	if err != nil {
		return domain.Transaction{}, err
	}
	if released {
		tx.AfterCommit(func() {
			l.logger.WithFields(map[string]interface{}{
				"transaction_id": txn.ID,
				"order_id":       order.ID,
			}).Info("refund returned order stock")
		})
	}
	return txn, nil
}

func (l *Ledger) Get(ctx context.Context, txID uuid.UUID) (domain.Transaction, error) {
	var txn domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		txn, err = tx.GetTransaction(ctx, txID)
		return err
	})
	return txn, err
}

func (l *Ledger) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetOrder(ctx, orderID); err != nil {
			return err
		}
		var err error
		txns, err = tx.ListTransactions(ctx, orderID)
		return err
	})
	return txns, err
}

func emit(ctx context.Context, tx store.Tx, txn domain.Transaction, eventType string, at time.Time) error {
	rec, err := domain.NewOutboxRecord(domain.AggregateTransaction, txn.ID, eventType, domain.NewTransactionEvent(txn, at))
	if err != nil {
		return err
	}
	if err := tx.InsertOutbox(ctx, rec); err != nil {
		return errors.Wrapf(err, "insert %s event", eventType)
	}
	return nil
}
