// Package cart keeps a user's pending line items. Nothing here touches inventory;
// availability is only checked when the cart is turned into an order.
package cart

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/store"
	"github.com/shopspring/decimal"
)

type Aggregator struct {
	store  store.Store
	logger observability.Logger
	now    func() time.Time
}

func NewAggregator(s store.Store, logger observability.Logger) *Aggregator {
	return &Aggregator{
		store:  s,
		logger: logger.WithField("component", "cart"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddItem adds qty units of a ticket to the user's cart, summing into an existing
// line for the same ticket.
func (a *Aggregator) AddItem(ctx context.Context, userID, ticketID uuid.UUID, qty int) (domain.CartItem, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return domain.CartItem{}, err
	}
	if err := domain.ValidateID("ticket_id", ticketID); err != nil {
		return domain.CartItem{}, err
	}
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.CartItem{}, err
	}

	var item domain.CartItem
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		ticket, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}

		now := a.now()
		existing, found, err := tx.FindCartItem(ctx, userID, ticketID)
		if err != nil {
			return err
		}
		if found {
			item = existing
			item.Quantity += qty
			if err := domain.ValidateQuantity(item.Quantity); err != nil {
				return err
			}
		} else {
			item = domain.CartItem{
				ID:        uuid.New(),
				UserID:    userID,
				TicketID:  ticketID,
				Quantity:  qty,
				CreatedAt: now,
			}
		}
		item.UnitPrice = ticket.Price
		item.UpdatedAt = now
		return tx.UpsertCartItem(ctx, item)
	})
	if err != nil {
		return domain.CartItem{}, err
	}
	return item, nil
}

// UpdateQuantity sets the quantity of a cart line. Zero removes the line; the
// returned bool reports whether the line still exists.
func (a *Aggregator) UpdateQuantity(ctx context.Context, cartItemID uuid.UUID, qty int) (domain.CartItem, bool, error) {
	if qty < 0 {
		return domain.CartItem{}, false, domain.Validationf("quantity must not be negative, got %d", qty)
	}
	if qty > 0 {
		if err := domain.ValidateQuantity(qty); err != nil {
			return domain.CartItem{}, false, err
		}
	}

	var item domain.CartItem
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		item, err = tx.GetCartItem(ctx, cartItemID)
		if err != nil {
			return err
		}
		if qty == 0 {
			_, err = tx.DeleteCartItem(ctx, cartItemID)
			return err
		}
		item.Quantity = qty
		item.UpdatedAt = a.now()
		return tx.UpsertCartItem(ctx, item)
	})
	if err != nil {
		return domain.CartItem{}, false, err
	}
	return item, qty > 0, nil
}

// RemoveItem deletes a cart line. Removing a missing line succeeds.
func (a *Aggregator) RemoveItem(ctx context.Context, cartItemID uuid.UUID) error {
	return a.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.DeleteCartItem(ctx, cartItemID)
		return err
	})
}

func (a *Aggregator) ClearForUser(ctx context.Context, userID uuid.UUID) error {
	return a.store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.DeleteCartItems(ctx, userID)
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.WithFields(map[string]interface{}{"user_id": userID, "removed": n}).Debug("cart cleared")
		}
		return nil
	})
}

// ComputeTotal prices the cart at current ticket prices, not at the prices
// recorded when items were added.
func (a *Aggregator) ComputeTotal(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		items, err := tx.ListCartItems(ctx, userID)
		if err != nil {
			return err
		}
		total = decimal.Zero
		for _, item := range items {
			ticket, err := tx.GetTicket(ctx, item.TicketID)
			if err != nil {
				return errors.Wrapf(err, "price cart item %s", item.ID)
			}
			total = total.Add(ticket.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (a *Aggregator) Items(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	var items []domain.CartItem
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		items, err = tx.ListCartItems(ctx, userID)
		return err
	})
	return items, err
}
