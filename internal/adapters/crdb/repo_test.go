package crdb_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticket-commerce/internal/adapters/crdb"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/inventory"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
	"github.com/robertarktes/ticket-commerce/internal/payments"
	"github.com/robertarktes/ticket-commerce/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

func startCockroach(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping cockroachdb container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	port, err := crdbContainer.MappedPort(ctx, "26257/tcp")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, crdb.Migrate(ctx, pool))
	return pool
}

func TestRepository(t *testing.T) {
	pool := startCockroach(t)
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(10))
	logger := observability.NopLogger()
	ledger := inventory.NewLedger(repo, logger)
	engine := orders.NewEngine(repo, ledger, logger)
	ledgerOfPayments := payments.NewLedger(repo, engine, logger)

	available := func(t *testing.T, id uuid.UUID) int {
		ticket, err := ledger.StatusFor(context.Background(), id)
		require.NoError(t, err)
		return ticket.AvailableQuantity
	}

	t.Run("conditional inventory updates", func(t *testing.T) {
		ctx := context.Background()
		ticket, err := ledger.AddTicket(ctx, "Pit", decimal.RequireFromString("80.00"), 3)
		require.NoError(t, err)

		err = repo.WithTx(ctx, func(tx store.Tx) error {
			after, applied, err := tx.DecrementAvailable(ctx, ticket.ID, 4)
			require.NoError(t, err)
			assert.False(t, applied)
			assert.Equal(t, 3, after.AvailableQuantity)

			after, applied, err = tx.DecrementAvailable(ctx, ticket.ID, 2)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, 1, after.AvailableQuantity)

			_, applied, err = tx.IncrementAvailable(ctx, ticket.ID, 3)
			require.NoError(t, err)
			assert.False(t, applied)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, available(t, ticket.ID))

		err = repo.WithTx(ctx, func(tx store.Tx) error {
			_, _, err := tx.DecrementAvailable(ctx, uuid.New(), 1)
			return err
		})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("scope rolls back on error", func(t *testing.T) {
		ctx := context.Background()
		ticket, err := ledger.AddTicket(ctx, "Box", decimal.RequireFromString("120.00"), 2)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = repo.WithTx(ctx, func(tx store.Tx) error {
			if _, err := ledger.Reserve(ctx, tx, ticket.ID, 2); err != nil {
				return err
			}
			return boom
		})
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 2, available(t, ticket.ID))
	})

	t.Run("order lifecycle", func(t *testing.T) {
		ctx := context.Background()
		a, err := ledger.AddTicket(ctx, "Stalls", decimal.RequireFromString("45.50"), 4)
		require.NoError(t, err)
		b, err := ledger.AddTicket(ctx, "Circle", decimal.RequireFromString("30.00"), 4)
		require.NoError(t, err)
		user := uuid.New()

		order, err := engine.CreateFromItems(ctx, user, []domain.LineItem{{TicketID: a.ID, Quantity: 2}})
		require.NoError(t, err)
		order, err = engine.AddItem(ctx, order.ID, b.ID, 1)
		require.NoError(t, err)

		stored, err := engine.Get(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, stored.Items, 2)
		assert.Equal(t, a.ID, stored.Items[0].TicketID)
		assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("121.00")), stored.TotalAmount.String())
		assert.Equal(t, order.Reference, stored.Reference)

		txn, err := ledgerOfPayments.Create(ctx, order.ID, stored.TotalAmount, "card")
		require.NoError(t, err)
		_, err = ledgerOfPayments.UpdateStatus(ctx, txn.ID, domain.TransactionSuccess)
		require.NoError(t, err)

		_, err = engine.UpdateStatus(ctx, order.ID, domain.OrderCompleted)
		require.NoError(t, err)
		completed, err := engine.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCompleted, completed.Status)
		require.NotNil(t, completed.CompletedAt)

		_, err = engine.Cancel(ctx, order.ID)
		assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))

		list, err := engine.ListForUser(ctx, user)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Equal(t, 2, available(t, a.ID))
		assert.Equal(t, 3, available(t, b.ID))
	})

	t.Run("failed checkout leaves inventory untouched", func(t *testing.T) {
		ctx := context.Background()
		a, err := ledger.AddTicket(ctx, "Row A", decimal.RequireFromString("10.00"), 5)
		require.NoError(t, err)
		b, err := ledger.AddTicket(ctx, "Row B", decimal.RequireFromString("10.00"), 1)
		require.NoError(t, err)

		_, err = engine.CreateFromItems(ctx, uuid.New(), []domain.LineItem{
			{TicketID: a.ID, Quantity: 3},
			{TicketID: b.ID, Quantity: 2},
		})
		assert.True(t, errors.Is(err, domain.ErrInsufficientInventory))
		assert.Equal(t, 5, available(t, a.ID))
		assert.Equal(t, 1, available(t, b.ID))
	})

	t.Run("concurrent checkouts never oversell", func(t *testing.T) {
		ctx := context.Background()
		ticket, err := ledger.AddTicket(ctx, "Front row", decimal.RequireFromString("150.00"), 3)
		require.NoError(t, err)

		var succeeded, rejected int64
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				_, err := engine.CreateFromItems(gctx, uuid.New(), []domain.LineItem{{TicketID: ticket.ID, Quantity: 1}})
				switch {
				case err == nil:
					atomic.AddInt64(&succeeded, 1)
				case errors.Is(err, domain.ErrInsufficientInventory):
					atomic.AddInt64(&rejected, 1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.EqualValues(t, 3, succeeded)
		assert.EqualValues(t, 5, rejected)
		assert.Equal(t, 0, available(t, ticket.ID))
	})

	t.Run("concurrent multi-item checkouts never oversell", func(t *testing.T) {
		ctx := context.Background()
		a, err := ledger.AddTicket(ctx, "Left wing", decimal.RequireFromString("60.00"), 3)
		require.NoError(t, err)
		b, err := ledger.AddTicket(ctx, "Right wing", decimal.RequireFromString("60.00"), 3)
		require.NoError(t, err)

		var succeeded, rejected int64
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			items := []domain.LineItem{{TicketID: a.ID, Quantity: 1}, {TicketID: b.ID, Quantity: 1}}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			g.Go(func() error {
				_, err := engine.CreateFromItems(gctx, uuid.New(), items)
				switch {
				case err == nil:
					atomic.AddInt64(&succeeded, 1)
				case errors.Is(err, domain.ErrInsufficientInventory):
					atomic.AddInt64(&rejected, 1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.EqualValues(t, 3, succeeded)
		assert.EqualValues(t, 5, rejected)
		assert.Equal(t, 0, available(t, a.ID))
		assert.Equal(t, 0, available(t, b.ID))
	})

	t.Run("cancel racing payment success", func(t *testing.T) {
		ctx := context.Background()
		events := func(t *testing.T, orderID uuid.UUID, eventType string) int {
			records, err := repo.GetUnpublishedOutbox(ctx, 1000)
			require.NoError(t, err)
			n := 0
			for _, rec := range records {
				if rec.AggregateID == orderID && rec.EventType == eventType {
					n++
				}
			}
			return n
		}

		for i := 0; i < 5; i++ {
			ticket, err := ledger.AddTicket(ctx, "Gallery", decimal.RequireFromString("35.00"), 2)
			require.NoError(t, err)
			order, err := engine.CreateFromItems(ctx, uuid.New(), []domain.LineItem{{TicketID: ticket.ID, Quantity: 2}})
			require.NoError(t, err)
			txn, err := ledgerOfPayments.Create(ctx, order.ID, order.TotalAmount, "card")
			require.NoError(t, err)

			var cancelErr, payErr error
			var g errgroup.Group
			g.Go(func() error {
				_, cancelErr = engine.Cancel(ctx, order.ID)
				return nil
			})
			g.Go(func() error {
				_, payErr = ledgerOfPayments.UpdateStatus(ctx, txn.ID, domain.TransactionSuccess)
				return nil
			})
			require.NoError(t, g.Wait())

			require.NoError(t, cancelErr)
			got, err := engine.Get(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderCancelled, got.Status)
			assert.True(t, got.StockReleased)
			assert.Equal(t, 2, available(t, ticket.ID))
			assert.Equal(t, 1, events(t, order.ID, domain.OrderStatusEvent(domain.OrderCancelled)))

			paid, err := ledgerOfPayments.Get(ctx, txn.ID)
			require.NoError(t, err)
			if payErr != nil {
				assert.True(t, errors.Is(payErr, domain.ErrIllegalTransition), "round %d: %v", i, payErr)
				assert.Equal(t, domain.TransactionPending, paid.Status)
				assert.Equal(t, 0, events(t, order.ID, domain.OrderStatusEvent(domain.OrderConfirmed)))
			} else {
				assert.Equal(t, domain.TransactionSuccess, paid.Status)
				assert.Equal(t, 1, events(t, order.ID, domain.OrderStatusEvent(domain.OrderConfirmed)))
			}
		}
	})

	t.Run("outbox relay source", func(t *testing.T) {
		ctx := context.Background()
		records, err := repo.GetUnpublishedOutbox(ctx, 1000)
		require.NoError(t, err)
		require.NotEmpty(t, records)

		rec := records[0]
		require.NoError(t, repo.MarkPublished(ctx, rec.ID, time.Now().UTC()))
		err = repo.MarkPublished(ctx, rec.ID, time.Now().UTC())
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		remaining, err := repo.GetUnpublishedOutbox(ctx, 1000)
		require.NoError(t, err)
		assert.Len(t, remaining, len(records)-1)
	})
}
