package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"multiverse-server/internal/models"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// participantKey ключ echo.Context для идентификатора участника.
const participantKey = "participant_id"

// TokenVerifier проверяет строку токена и возвращает claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*models.Claims, error)
}

// Auth проверяет bearer-токен и кладет идентификатор участника в контекст запроса.
// Для websocket-рукопожатия токен допускается в параметре token.
func Auth(verifier TokenVerifier, logger *zap.Logger) echo.MiddlewareFunc {
	log := logger.Named("AuthMiddleware")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized: Missing or malformed token")
			}

			claims, err := verifier.VerifyToken(c.Request().Context(), tokenString)
			if err != nil {
				msg := "Unauthorized: Invalid token"
				switch {
				case errors.Is(err, models.ErrTokenExpired):
					msg = "Unauthorized: Token expired"
				case errors.Is(err, models.ErrTokenMalformed), errors.Is(err, models.ErrTokenInvalid):
				default:
					log.Error("Unexpected token verification error", zap.Error(err))
					return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error during token verification")
				}
				log.Debug("Token verification failed", zap.Error(err), zap.String("path", c.Path()))
				return echo.NewHTTPError(http.StatusUnauthorized, msg)
			}

			c.Set(participantKey, claims.UserID)
			ctx := context.WithValue(c.Request().Context(), models.ParticipantContextKey, claims.UserID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get(echo.HeaderAuthorization); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" && isWebSocketUpgrade(r) {
		return token, true
	}
	return "", false
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ParticipantID идентификатор участника, установленный Auth.
func ParticipantID(c echo.Context) string {
	pid, _ := c.Get(participantKey).(string)
	return pid
}
