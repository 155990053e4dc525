package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisScheduler очередь задач в sorted set: score - время готовности в мс, member - JSON задачи.
// Одинаковые задачи дают одинаковый member, поэтому не дублируются.
type RedisScheduler struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

var _ interfaces.TaskScheduler = (*RedisScheduler)(nil)

func NewRedisScheduler(client *redis.Client, key string, logger *zap.Logger) *RedisScheduler {
	return &RedisScheduler{
		client: client,
		key:    key,
		logger: logger.Named("RedisScheduler"),
	}
}

// Schedule добавляет задачу. Для уже стоящей в очереди задачи остается более раннее время.
func (s *RedisScheduler) Schedule(ctx context.Context, task models.Task, dueAt time.Time) error {
	member, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	err = s.client.ZAddLT(ctx, s.key, redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: string(member),
	}).Err()
	if err != nil {
		s.logger.Error("Failed to schedule task", zap.Stringer("task", task), zap.Error(err))
		return fmt.Errorf("failed to schedule task %s: %w", task, err)
	}
	s.logger.Debug("Task scheduled", zap.Stringer("task", task), zap.Time("dueAt", dueAt))
	return nil
}

// ClaimDue забирает созревшие задачи. Задача принадлежит тому, чей ZREM вернул 1.
func (s *RedisScheduler) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]models.Task, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}

	claimed := make([]models.Task, 0, len(members))
	for _, member := range members {
		removed, err := s.client.ZRem(ctx, s.key, member).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim task: %w", err)
		}
		if removed == 0 {
			// забрал другой процесс
			continue
		}
		var task models.Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			s.logger.Error("Dropping undecodable task", zap.String("member", member), zap.Error(err))
			continue
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}
