package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"multiverse-server/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis integration tests in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "docker.io/redis:7-alpine")
	require.NoError(t, err, "Failed to start redis container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisScheduler(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	newScheduler := func() *RedisScheduler {
		return NewRedisScheduler(client, "test:tasks:"+uuid.NewString(), zap.NewNop())
	}
	task := func(kind models.TaskKind) models.Task {
		return models.Task{Kind: kind, InstanceID: uuid.New(), NodeID: uuid.New()}
	}

	t.Run("Claims only due tasks", func(t *testing.T) {
		s := newScheduler()
		due, later := task(models.TaskBotChoices), task(models.TaskBotChoices)
		require.NoError(t, s.Schedule(ctx, due, base))
		require.NoError(t, s.Schedule(ctx, later, base.Add(time.Minute)))

		claimed, err := s.ClaimDue(ctx, base.Add(time.Second), 10)
		require.NoError(t, err)
		assert.Equal(t, []models.Task{due}, claimed)

		claimed, err = s.ClaimDue(ctx, base.Add(time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed, "claimed task is gone")

		claimed, err = s.ClaimDue(ctx, base.Add(2*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []models.Task{later}, claimed)
	})

	t.Run("Identical tasks are deduplicated keeping the earlier time", func(t *testing.T) {
		s := newScheduler()
		tk := task(models.TaskBotChat)
		require.NoError(t, s.Schedule(ctx, tk, base.Add(time.Minute)))
		require.NoError(t, s.Schedule(ctx, tk, base))
		require.NoError(t, s.Schedule(ctx, tk, base.Add(time.Hour)))

		n, err := client.ZCard(ctx, s.key).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		claimed, err := s.ClaimDue(ctx, base, 10)
		require.NoError(t, err)
		assert.Equal(t, []models.Task{tk}, claimed)
	})

	t.Run("Limit bounds a single claim", func(t *testing.T) {
		s := newScheduler()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Schedule(ctx, task(models.TaskBotChoices), base.Add(time.Duration(i)*time.Millisecond)))
		}
		claimed, err := s.ClaimDue(ctx, base.Add(time.Second), 2)
		require.NoError(t, err)
		assert.Len(t, claimed, 2)
	})

	t.Run("Concurrent claimers get each task once", func(t *testing.T) {
		s := newScheduler()
		const total = 50
		for i := 0; i < total; i++ {
			require.NoError(t, s.Schedule(ctx, task(models.TaskBotChoices), base))
		}

		var (
			mu   sync.Mutex
			seen = make(map[uuid.UUID]int)
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				peer := NewRedisScheduler(client, s.key, zap.NewNop())
				for {
					claimed, err := peer.ClaimDue(ctx, base, 7)
					if !assert.NoError(t, err) || len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, c := range claimed {
						seen[c.InstanceID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "task %s claimed more than once", id)
		}
	})
}
