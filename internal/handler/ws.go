package handler

import (
	"net/http"

	"multiverse-server/internal/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// StreamServer подписывает websocket-соединение на события экземпляра.
type StreamServer interface {
	Serve(conn *websocket.Conn, instanceID uuid.UUID, participantID string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// stream проверяет назначение до апгрейда, посторонние получают обычный HTTP-ответ.
func (h *StoryHandler) stream(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	participantID := middleware.ParticipantID(c)
	if err := h.service.Authorize(c.Request().Context(), id, participantID); err != nil {
		return h.fail(c, "WebSocket authorization failed", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade сам отвечает клиенту
		h.logger.Warn("Failed to upgrade connection", zap.Stringer("instanceID", id), zap.Error(err))
		return nil
	}
	h.streams.Serve(conn, id, participantID)
	return nil
}
