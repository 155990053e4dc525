package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"multiverse-server/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type collectingSink struct {
	mu      sync.Mutex
	updates []models.InstanceUpdate
}

func (s *collectingSink) Broadcast(u models.InstanceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *collectingSink) snapshot() []models.InstanceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InstanceUpdate(nil), s.updates...)
}

func TestInstanceUpdatesRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()

	rmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server startup complete")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmqContainer.Terminate(context.Background()) })

	url, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	logger := zap.NewNop()
	sinks := []*collectingSink{{}, {}}
	for _, sink := range sinks {
		consumer := NewInstanceUpdateConsumer(conn, "instance_updates_test", sink, logger)
		go func() { _ = consumer.StartConsuming(ctx) }()
		t.Cleanup(consumer.Stop)
	}

	publisher, err := NewInstanceUpdatePublisher(conn, "instance_updates_test", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	nodeID := uuid.New()
	update := models.InstanceUpdate{
		Type:       models.InstanceEventAdvanced,
		InstanceID: uuid.New(),
		NodeID:     &nodeID,
		Status:     models.InstanceStatusActive,
		OccurredAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	// очереди консьюмеров объявляются асинхронно, публикуем до первой доставки
	require.Eventually(t, func() bool {
		if err := publisher.PublishInstanceUpdate(ctx, update); err != nil {
			return false
		}
		return len(sinks[0].snapshot()) > 0 && len(sinks[1].snapshot()) > 0
	}, 30*time.Second, 200*time.Millisecond)

	for _, sink := range sinks {
		got := sink.snapshot()[0]
		assert.Equal(t, update.Type, got.Type)
		assert.Equal(t, update.InstanceID, got.InstanceID)
		require.NotNil(t, got.NodeID)
		assert.Equal(t, nodeID, *got.NodeID)
		assert.True(t, update.OccurredAt.Equal(got.OccurredAt))
	}
}
