package authutils

import (
	"context"
	"errors"
	"fmt"

	"multiverse-server/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTVerifier проверяет токены участников, выпущенные внешним провайдером идентичности.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
	logger *zap.Logger
}

func NewJWTVerifier(secret string, logger *zap.Logger) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt verifier: empty secret")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
		logger: logger.Named("JWTVerifier"),
	}, nil
}

// VerifyToken проверяет подпись HMAC и срок действия, возвращает claims с непустым user_id.
func (v *JWTVerifier) VerifyToken(_ context.Context, tokenString string) (*models.Claims, error) {
	var claims models.Claims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		v.logger.Debug("Token rejected", zap.String("token", redact(tokenString)), zap.Error(err))
		return nil, classify(err)
	}
	if claims.UserID == "" {
		v.logger.Warn("Token without user_id", zap.String("token", redact(tokenString)))
		return nil, fmt.Errorf("%w: user_id missing", models.ErrTokenInvalid)
	}
	return &claims, nil
}

// classify сводит ошибки jwt к доменным.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return models.ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return models.ErrTokenInvalid
	}
	return fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
}

// SignToken выпускает токен участника. Используется в тестах и локальной отладке.
func SignToken(secret, participantID string, claims jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.Claims{
		UserID:           participantID,
		RegisteredClaims: claims,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign participant token: %w", err)
	}
	return signed, nil
}

// redact оставляет от токена только начало заголовка.
func redact(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:12] + "***"
}
