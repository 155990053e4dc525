package database

import (
	"context"
	"fmt"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	insertChatMessageQuery = `
INSERT INTO character_chat (id, instance_id, character_id, from_bot, message)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`

	listRecentChatQuery = `
SELECT * FROM (
    SELECT m.id, m.instance_id, m.character_id, c.name AS character_name, m.from_bot, m.message, m.created_at
    FROM character_chat m
    JOIN story_characters c ON c.id = m.character_id
    WHERE m.instance_id = $1
    ORDER BY m.created_at DESC
    LIMIT $2
) recent
ORDER BY created_at ASC`
)

type pgChatRepository struct {
	logger *zap.Logger
}

var _ interfaces.ChatRepository = (*pgChatRepository)(nil)

func NewPgChatRepository(logger *zap.Logger) *pgChatRepository {
	return &pgChatRepository{logger: logger.Named("PgChatRepo")}
}

func (r *pgChatRepository) Append(ctx context.Context, querier interfaces.DBTX, msg *models.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	err := querier.QueryRow(ctx, insertChatMessageQuery, msg.ID, msg.InstanceID, msg.CharacterID, msg.FromBot, msg.Message).Scan(&msg.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to append chat message", zap.Stringer("instanceID", msg.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

func (r *pgChatRepository) ListRecent(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	list := make([]models.ChatMessage, 0, limit)
	if err := pgxscan.Select(ctx, querier, &list, listRecentChatQuery, instanceID, limit); err != nil {
		r.logger.Error("Failed to list chat", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return list, nil
}
