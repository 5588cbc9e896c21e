package mongo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/ticket-commerce/internal/adapters/mongo"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestAuditLogger_RecordAndHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mongo container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer mongoContainer.Terminate(ctx)

	endpoint, err := mongoContainer.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(fmt.Sprintf("mongodb://%s", endpoint)))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	audit := mongoadapter.NewAuditLogger(client.Database("tc_test"), observability.NopLogger())
	require.NoError(t, audit.EnsureIndexes(ctx))

	order := domain.Order{ID: uuid.New(), Reference: "ORD-0000ABCD", UserID: uuid.New(), Status: domain.OrderPending}
	created, err := domain.NewOutboxRecord(domain.AggregateOrder, order.ID, domain.EventOrderCreated, domain.NewOrderEvent(order, order.CreatedAt))
	require.NoError(t, err)
	order.Status = domain.OrderCancelled
	cancelled, err := domain.NewOutboxRecord(domain.AggregateOrder, order.ID, domain.OrderStatusEvent(order.Status), domain.NewOrderEvent(order, order.CreatedAt))
	require.NoError(t, err)
	cancelled.CreatedAt = created.CreatedAt.Add(time.Second)

	require.NoError(t, audit.Record(ctx, created))
	require.NoError(t, audit.Record(ctx, cancelled))
	require.NoError(t, audit.Record(ctx, created))

	history, err := audit.History(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventOrderCreated, history[0].Action)
	assert.Equal(t, "order.cancelled", history[1].Action)
	assert.Equal(t, "ORD-0000ABCD", history[0].Data["reference"])
}
