package database

import (
	"context"
	"fmt"
	"time"

	"multiverse-server/internal/interfaces"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.ChatCooldown = (*redisChatCooldown)(nil)

type redisChatCooldown struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisChatCooldown кулдаун реплик ботов на ключах SET NX PX.
func NewRedisChatCooldown(client *redis.Client, ttl time.Duration, logger *zap.Logger) interfaces.ChatCooldown {
	return &redisChatCooldown{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisChatCooldown"),
	}
}

func cooldownKey(instanceID uuid.UUID) string {
	return fmt.Sprintf("multiverse:chat_cooldown:%s", instanceID)
}

func (c *redisChatCooldown) TryAcquire(ctx context.Context, instanceID uuid.UUID) (bool, error) {
	ok, err := c.client.SetNX(ctx, cooldownKey(instanceID), time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
	if err != nil {
		c.logger.Error("Failed to acquire chat cooldown", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return false, fmt.Errorf("failed to acquire chat cooldown: %w", err)
	}
	return ok, nil
}

func (c *redisChatCooldown) Touch(ctx context.Context, instanceID uuid.UUID) error {
	if err := c.client.Set(ctx, cooldownKey(instanceID), time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Err(); err != nil {
		c.logger.Error("Failed to refresh chat cooldown", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return fmt.Errorf("failed to refresh chat cooldown: %w", err)
	}
	return nil
}
