package models

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claims содержимое токена участника. Идентичность выдается внешним провайдером.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type contextKey string

// ParticipantContextKey ключ контекста для идентификатора участника.
const ParticipantContextKey contextKey = "participantID"

// ParticipantFromContext извлекает идентификатор участника из контекста.
func ParticipantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ParticipantContextKey).(string)
	return id, ok && id != ""
}
