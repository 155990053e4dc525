package interfaces

import (
	"context"

	"multiverse-server/internal/models"
)

// TextGenerator генерирует короткую реплику персонажа.
type TextGenerator interface {
	Generate(ctx context.Context, req models.BotLineRequest) (string, error)
}
