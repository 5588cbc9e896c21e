package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, reference, user_id, status, total_amount, stock_released, created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &o.Reference, &o.UserID, &status, &o.TotalAmount, &o.StockReleased,
		&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	o.Status = domain.OrderStatus(status)
	return o, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o domain.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO orders (id, reference, user_id, status, total_amount, stock_released, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.Reference, o.UserID, string(o.Status), o.TotalAmount, o.StockReleased, o.CreatedAt, o.UpdatedAt, o.CompletedAt)
	for i, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, line_no, ticket_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, o.ID, i+1, item.TicketID, item.Quantity, item.UnitPrice)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.NotFoundf("order %s not found", id)
	}
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "get order")
	}
	if o.Items, err = t.orderItems(ctx, id); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (t *pgTx) orderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT ticket_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY line_no
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.TicketID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *pgTx) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	for i := range orders {
		if orders[i].Items, err = t.orderItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (t *pgTx) ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM orders WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list stale orders")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan order id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) CompareAndSetOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2
	`, id, string(from), string(to), now)
	if err != nil {
		return false, errors.Wrap(err, "update order status")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendOrderItem(ctx context.Context, id uuid.UUID, item domain.OrderItem, total decimal.Decimal, now time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (order_id, line_no, ticket_id, quantity, unit_price)
		SELECT $1, COALESCE(MAX(line_no), 0) + 1, $2, $3, $4 FROM order_items WHERE order_id = $1
	`, id, item.TicketID, item.Quantity, item.UnitPrice)
	if err != nil {
		return errors.Wrap(err, "insert order item")
	}
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET total_amount = $2, updated_at = $3 WHERE id = $1`, id, total, now)
	if err != nil {
		return errors.Wrap(err, "update order total")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("order %s not found", id)
	}
	return nil
}

func (t *pgTx) MarkStockReleased(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET stock_released = true, updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return errors.Wrap(err, "mark stock released")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("order %s not found", id)
	}
	return nil
}

func (t *pgTx) SetOrderCompletedAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET completed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrap(err, "set completed_at")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("order %s not found", id)
	}
	return nil
}

const transactionColumns = `id, reference, order_id, amount, payment_method, external_reference, status, created_at, updated_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		txn    domain.Transaction
		status string
	)
	err := row.Scan(&txn.ID, &txn.Reference, &txn.OrderID, &txn.Amount, &txn.PaymentMethod,
		&txn.ExternalReference, &status, &txn.CreatedAt, &txn.UpdatedAt)
	txn.Status = domain.TransactionStatus(status)
	return txn, err
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, reference, order_id, amount, payment_method, external_reference, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, txn.ID, txn.Reference, txn.OrderID, txn.Amount, txn.PaymentMethod, txn.ExternalReference,
		string(txn.Status), txn.CreatedAt, txn.UpdatedAt)
	return errors.Wrap(err, "insert transaction")
}

func (t *pgTx) GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, domain.NotFoundf("transaction %s not found", id)
	}
	return txn, errors.Wrap(err, "get transaction")
}

func (t *pgTx) ListTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan transaction")
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (t *pgTx) CompareAndSetTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, now time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2
	`, id, string(from), string(to), now)
	if err != nil {
		return false, errors.Wrap(err, "update transaction status")
	}
	return tag.RowsAffected() == 1, nil
}
