package crdb

import (
	"context"
	_ "embed"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/store"
)

const (
	SerializationFailureCode = "40001"
)

//go:embed schema.sql
var schema string

var (
	_ store.Store        = (*Repository)(nil)
	_ store.OutboxSource = (*Repository)(nil)
)

type Repository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

type Option func(*Repository)

// WithMaxRetries bounds how often a scope is re-run after a serialization failure.
func WithMaxRetries(n int) Option {
	return func(r *Repository) { r.maxRetries = n }
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, maxRetries: 5}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction. The whole scope is re-run with
// exponential backoff when CockroachDB asks for a restart.
func (r *Repository) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			observability.DBTxRetries.Inc()
		}
		attempt++

		err := r.runTx(ctx, fn)
		if err == nil || errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx))
}

func (r *Repository) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	scope := &pgTx{tx: tx}
	if err := fn(scope); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	scope.RunAfterCommit()
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Wrap(domain.ErrSerializationFailure, pgErr.Message)
	}
	return err
}

type pgTx struct {
	store.Hooks
	tx pgx.Tx
}

const ticketColumns = `id, name, price, available_quantity, total_quantity, updated_at`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.Name, &t.Price, &t.AvailableQuantity, &t.TotalQuantity, &t.UpdatedAt)
	return t, err
}

func (t *pgTx) InsertTicket(ctx context.Context, ticket domain.Ticket) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tickets (id, name, price, available_quantity, total_quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ticket.ID, ticket.Name, ticket.Price, ticket.AvailableQuantity, ticket.TotalQuantity, ticket.UpdatedAt)
	return errors.Wrap(err, "insert ticket")
}

func (t *pgTx) GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	ticket, err := scanTicket(t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, domain.NotFoundf("ticket %s not found", id)
	}
	return ticket, errors.Wrap(err, "get ticket")
}

func (t *pgTx) DecrementAvailable(ctx context.Context, id uuid.UUID, qty int) (domain.Ticket, bool, error) {
	return t.adjustAvailable(ctx, id, `
		UPDATE tickets SET available_quantity = available_quantity - $2, updated_at = now()
		WHERE id = $1 AND available_quantity >= $2
		RETURNING `+ticketColumns, qty)
}

func (t *pgTx) IncrementAvailable(ctx context.Context, id uuid.UUID, qty int) (domain.Ticket, bool, error) {
	return t.adjustAvailable(ctx, id, `
		UPDATE tickets SET available_quantity = available_quantity + $2, updated_at = now()
		WHERE id = $1 AND available_quantity + $2 <= total_quantity
		RETURNING `+ticketColumns, qty)
}

func (t *pgTx) adjustAvailable(ctx context.Context, id uuid.UUID, sql string, qty int) (domain.Ticket, bool, error) {
	ticket, err := scanTicket(t.tx.QueryRow(ctx, sql, id, qty))
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, false, errors.Wrap(err, "adjust available quantity")
	}
	ticket, err = t.GetTicket(ctx, id)
	if err != nil {
		return domain.Ticket{}, false, err
	}
	return ticket, false, nil
}

const cartColumns = `id, user_id, ticket_id, quantity, unit_price, created_at, updated_at`

func scanCartItem(row pgx.Row) (domain.CartItem, error) {
	var c domain.CartItem
	err := row.Scan(&c.ID, &c.UserID, &c.TicketID, &c.Quantity, &c.UnitPrice, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *pgTx) GetCartItem(ctx context.Context, id uuid.UUID) (domain.CartItem, error) {
	item, err := scanCartItem(t.tx.QueryRow(ctx, `SELECT `+cartColumns+` FROM cart_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CartItem{}, domain.NotFoundf("cart item %s not found", id)
	}
	return item, errors.Wrap(err, "get cart item")
}

func (t *pgTx) FindCartItem(ctx context.Context, userID, ticketID uuid.UUID) (domain.CartItem, bool, error) {
	item, err := scanCartItem(t.tx.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE user_id = $1 AND ticket_id = $2`, userID, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CartItem{}, false, nil
	}
	if err != nil {
		return domain.CartItem{}, false, errors.Wrap(err, "find cart item")
	}
	return item, true, nil
}

func (t *pgTx) ListCartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *pgTx) UpsertCartItem(ctx context.Context, item domain.CartItem) error {
	_, err := t.tx.Exec(ctx, `
		UPSERT INTO cart_items (id, user_id, ticket_id, quantity, unit_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.TicketID, item.Quantity, item.UnitPrice, item.CreatedAt, item.UpdatedAt)
	return errors.Wrap(err, "upsert cart item")
}

func (t *pgTx) DeleteCartItem(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete cart item")
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) DeleteCartItems(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "clear cart")
	}
	return int(tag.RowsAffected()), nil
}
