// Package orders turns requested items into orders, owns the order status
// machine and returns reserved stock when an order is cancelled.
package orders

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/inventory"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("orders")

type Engine struct {
	store     store.Store
	inventory *inventory.Ledger
	logger    observability.Logger
	now       func() time.Time
}

func NewEngine(s store.Store, inv *inventory.Ledger, logger observability.Logger) *Engine {
	return &Engine{
		store:     s,
		inventory: inv,
		logger:    logger.WithField("component", "orders"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) CreateFromItems(ctx context.Context, userID uuid.UUID, items []domain.LineItem) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.create_from_items")
	defer span.End()

	var order domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = e.CreateFromItemsTx(ctx, tx, userID, items)
		return err
	})
	if err != nil {
		span.RecordError(err)
		e.rejected(userID, err)
		return domain.Order{}, err
	}
	return order, nil
}

// CreateFromItemsTx reserves every item and persists a pending order. When a
// reservation is refused, the reservations already taken by this call are
// released before the error is returned. Storage errors are returned unchanged
// so the scope can be rolled back and retried.
func (e *Engine) CreateFromItemsTx(ctx context.Context, tx store.Tx, userID uuid.UUID, items []domain.LineItem) (domain.Order, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return domain.Order{}, err
	}
	lines, err := domain.NormalizeLineItems(items)
	if err != nil {
		return domain.Order{}, err
	}

	reserved := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		ticket, err := e.inventory.Reserve(ctx, tx, line.TicketID, line.Quantity)
		if err != nil {
			if !domain.IsBusinessError(err) {
				return domain.Order{}, err
			}
			if cerr := e.compensate(ctx, tx, reserved); cerr != nil {
				return domain.Order{}, errors.WithSecondaryError(cerr, err)
			}
			return domain.Order{}, err
		}
		reserved = append(reserved, domain.OrderItem{
			TicketID:  line.TicketID,
			Quantity:  line.Quantity,
			UnitPrice: ticket.Price,
		})
	}

	now := e.now()
	order := domain.NewOrder(userID, reserved, now)
	if err := tx.InsertOrder(ctx, order); err != nil {
		return domain.Order{}, errors.Wrap(err, "insert order")
	}
	if err := emit(ctx, tx, order, domain.EventOrderCreated, now); err != nil {
		return domain.Order{}, err
	}

	tx.AfterCommit(func() {
		e.logger.WithFields(map[string]interface{}{
			"order_id":  order.ID,
			"reference": order.Reference,
			"user_id":   userID,
			"total":     order.TotalAmount.StringFixed(2),
		}).Info("order created")
	})
	return order, nil
}

// rejected records a failed checkout after its scope has been rolled back.
func (e *Engine) rejected(userID uuid.UUID, err error) {
	if errors.Is(err, domain.ErrInsufficientInventory) {
		observability.Reservations.WithLabelValues("insufficient").Inc()
	}
	if domain.IsBusinessError(err) {
		e.logger.WithError(err).WithField("user_id", userID).Info("checkout rejected")
	}
}

func (e *Engine) compensate(ctx context.Context, tx store.TicketTx, reserved []domain.OrderItem) error {
	for i := len(reserved) - 1; i >= 0; i-- {
		item := reserved[i]
		if _, err := e.inventory.Release(ctx, tx, item.TicketID, item.Quantity); err != nil {
			return errors.Wrapf(err, "compensate reservation of ticket %s", item.TicketID)
		}
		e.logger.WithFields(map[string]interface{}{
			"ticket_id": item.TicketID,
			"quantity":  item.Quantity,
		}).Warn("reservation compensated")
	}
	return nil
}

// CreateFromCart checks out the user's whole cart and removes the lines that
// became part of the order.
func (e *Engine) CreateFromCart(ctx context.Context, userID uuid.UUID) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.create_from_cart")
	defer span.End()

	var order domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		cartItems, err := tx.ListCartItems(ctx, userID)
		if err != nil {
			return err
		}
		if len(cartItems) == 0 {
			return errors.Wrapf(domain.ErrEmptyCart, "user %s", userID)
		}

		lines := make([]domain.LineItem, 0, len(cartItems))
		for _, item := range cartItems {
			lines = append(lines, domain.LineItem{TicketID: item.TicketID, Quantity: item.Quantity})
		}
		order, err = e.CreateFromItemsTx(ctx, tx, userID, lines)
		if err != nil {
			return err
		}

		for _, item := range cartItems {
			if _, err := tx.DeleteCartItem(ctx, item.ID); err != nil {
				return errors.Wrapf(err, "remove cart item %s", item.ID)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.rejected(userID, err)
		return domain.Order{}, err
	}
	return order, nil
}

func (e *Engine) UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.update_status",
		trace.WithAttributes(attribute.String("order.id", orderID.String()), attribute.String("order.status", string(status))))
	defer span.End()

	var order domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = e.UpdateStatusTx(ctx, tx, orderID, status)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	return order, nil
}

// UpdateStatusTx moves the order along a legal edge. Entering cancelled returns
// the order's stock unless it was already returned; entering completed stamps
// CompletedAt.
func (e *Engine) UpdateStatusTx(ctx context.Context, tx store.Tx, orderID uuid.UUID, status domain.OrderStatus) (domain.Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	from := order.Status
	if !from.CanTransitionTo(status) {
		return domain.Order{}, domain.IllegalTransitionf("order %s cannot move from %s to %s", orderID, from, status)
	}

	now := e.now()
	ok, err := tx.CompareAndSetOrderStatus(ctx, orderID, from, status, now)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "update order %s status", orderID)
	}
	if !ok {
		return domain.Order{}, domain.IllegalTransitionf("order %s is no longer %s", orderID, from)
	}
	order.Status = status
	order.UpdatedAt = now

	switch status {
	case domain.OrderCancelled:
		if _, err := e.ReleaseStockTx(ctx, tx, &order); err != nil {
			return domain.Order{}, err
		}
	case domain.OrderCompleted:
		if err := tx.SetOrderCompletedAt(ctx, orderID, now); err != nil {
			return domain.Order{}, errors.Wrapf(err, "complete order %s", orderID)
		}
		order.CompletedAt = &now
	}

	if err := emit(ctx, tx, order, domain.OrderStatusEvent(status), now); err != nil {
		return domain.Order{}, err
	}

	tx.AfterCommit(func() {
		observability.OrderTransitions.WithLabelValues(string(from), string(status)).Inc()
		e.logger.WithFields(map[string]interface{}{
			"order_id": orderID,
			"from":     from,
			"to":       status,
		}).Info("order status changed")
	})
	return order, nil
}

// ReleaseStockTx returns every item of the order to inventory at most once per
// order. It reports whether anything was released.
func (e *Engine) ReleaseStockTx(ctx context.Context, tx store.Tx, order *domain.Order) (bool, error) {
	if order.StockReleased {
		return false, nil
	}
	for _, item := range order.Items {
		if _, err := e.inventory.Release(ctx, tx, item.TicketID, item.Quantity); err != nil {
			return false, errors.Wrapf(err, "release stock of order %s", order.ID)
		}
	}
	now := e.now()
	if err := tx.MarkStockReleased(ctx, order.ID, now); err != nil {
		return false, errors.Wrapf(err, "mark order %s stock released", order.ID)
	}
	order.StockReleased = true
	order.UpdatedAt = now
	return true, nil
}

func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.cancel", trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	var order domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = e.CancelTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	return order, nil
}

func (e *Engine) CancelTx(ctx context.Context, tx store.Tx, orderID uuid.UUID) (domain.Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status.IsTerminal() {
		return domain.Order{}, domain.AlreadyTerminalf("order %s is already %s", orderID, order.Status)
	}
	return e.UpdateStatusTx(ctx, tx, orderID, domain.OrderCancelled)
}

// AddItem reserves qty more units of a ticket for a pending order and appends a
// new price snapshot.
func (e *Engine) AddItem(ctx context.Context, orderID, ticketID uuid.UUID, qty int) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.add_item", trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	if err := domain.ValidateID("ticket_id", ticketID); err != nil {
		return domain.Order{}, err
	}
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.IsPending() {
			return domain.IllegalStatef("order %s is %s, items can only be added while pending", orderID, order.Status)
		}

		ticket, err := e.inventory.Reserve(ctx, tx, ticketID, qty)
		if err != nil {
			return err
		}
		item := domain.OrderItem{TicketID: ticketID, Quantity: qty, UnitPrice: ticket.Price}
		order.Items = append(order.Items, item)
		order.TotalAmount = domain.SumItems(order.Items)
		order.UpdatedAt = e.now()

		if err := tx.AppendOrderItem(ctx, orderID, item, order.TotalAmount, order.UpdatedAt); err != nil {
			return errors.Wrapf(err, "append item to order %s", orderID)
		}
		return emit(ctx, tx, order, domain.EventOrderItemAdded, order.UpdatedAt)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInsufficientInventory) {
			observability.Reservations.WithLabelValues("insufficient").Inc()
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (e *Engine) Get(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	var order domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	return order, err
}

func (e *Engine) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	var orders []domain.Order
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, userID)
		return err
	})
	return orders, err
}

// ExpireStale cancels up to limit pending orders created more than ttl ago. Each
// order is cancelled in its own scope; an order that moved on in the meantime is
// skipped.
func (e *Engine) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "orders.expire_stale")
	defer span.End()

	cutoff := e.now().Add(-ttl)
	var ids []uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListStalePendingOrders(ctx, cutoff, limit)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "list stale orders")
	}

	expired := 0
	var errs error
	for _, id := range ids {
		err := e.store.WithTx(ctx, func(tx store.Tx) error {
			order, err := tx.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			if !order.IsPending() || !order.CreatedAt.Before(cutoff) {
				return errSkipped
			}
			_, err = e.UpdateStatusTx(ctx, tx, id, domain.OrderCancelled)
			return err
		})
		switch {
		case err == nil:
			expired++
			observability.OrdersExpired.Inc()
			e.logger.WithField("order_id", id).Info("stale order expired")
		case errors.Is(err, errSkipped), errors.Is(err, domain.ErrIllegalTransition):
			e.logger.WithField("order_id", id).Debug("stale order no longer pending")
		default:
			e.logger.WithError(err).WithField("order_id", id).Error("failed to expire order")
			errs = errors.CombineErrors(errs, err)
		}
	}
	return expired, errs
}

var errSkipped = errors.New("skipped")

func emit(ctx context.Context, tx store.Tx, order domain.Order, eventType string, at time.Time) error {
	rec, err := domain.NewOutboxRecord(domain.AggregateOrder, order.ID, eventType, domain.NewOrderEvent(order, at))
	if err != nil {
		return err
	}
	if err := tx.InsertOutbox(ctx, rec); err != nil {
		return errors.Wrapf(err, "insert %s event", eventType)
	}
	return nil
}
