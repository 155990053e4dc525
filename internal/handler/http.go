package handler

import (
	"errors"
	"net/http"
	"strconv"

	"multiverse-server/internal/middleware"
	"multiverse-server/internal/models"
	"multiverse-server/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StoryHandler HTTP API координации экземпляров историй.
type StoryHandler struct {
	service  service.StoryService
	verifier middleware.TokenVerifier
	streams  StreamServer
	logger   *zap.Logger
}

func NewStoryHandler(s service.StoryService, verifier middleware.TokenVerifier, streams StreamServer, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		service:  s,
		verifier: verifier,
		streams:  streams,
		logger:   logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *StoryHandler) RegisterRoutes(e *echo.Echo) {
	if e.Validator == nil {
		e.Validator = NewRequestValidator()
	}
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := middleware.Auth(h.verifier, h.logger)

	stories := e.Group("/stories", auth)
	{
		stories.GET("", h.listStories)
		stories.POST("/:storyId/join", h.join)
	}

	instances := e.Group("/instances", auth)
	{
		instances.GET("/:id", h.getInstance)
		instances.GET("/:id/node", h.getNode)
		instances.POST("/:id/choices", h.submitChoice)
		instances.POST("/:id/nudge", h.nudge)
		instances.GET("/:id/chat", h.listChat)
		instances.POST("/:id/chat", h.postChat)
		instances.GET("/:id/ws", h.stream)
	}
}

func handleServiceError(c echo.Context, err error) error {
	var statusCode int
	var apiErr APIError

	switch {
	case errors.Is(err, models.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		apiErr = APIError{Message: "Unauthorized"}
	case errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrInstanceNotFound),
		errors.Is(err, models.ErrNodeNotFound),
		errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrNotParticipant),
		errors.Is(err, models.ErrBotParticipantID),
		errors.Is(err, models.ErrChoiceNotVisible):
		statusCode = http.StatusForbidden
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrAlreadySubmitted),
		errors.Is(err, models.ErrCharacterTaken),
		errors.Is(err, models.ErrInstanceNotActive),
		errors.Is(err, models.ErrStaleNode):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrInvalidChoice),
		errors.Is(err, models.ErrNodeMismatch),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrNoAvailableCharacters):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Internal server error"}
	}
	return c.JSON(statusCode, apiErr)
}

// Ошибки разбора запроса возвращаются как echo.HTTPError, тело ответа совпадает с APIError.
func paramUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name+" format")
	}
	return id, nil
}

// bindValid разбирает тело запроса и проверяет его тегами validate.
func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	return c.Validate(req)
}

func (h *StoryHandler) listStories(c echo.Context) error {
	stories, err := h.service.ListStories(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list stories", zap.Error(err))
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, stories)
}

func (h *StoryHandler) join(c echo.Context) error {
	storyID, err := paramUUID(c, "storyId")
	if err != nil {
		return err
	}
	result, err := h.service.Join(c.Request().Context(), middleware.ParticipantID(c), storyID)
	if err != nil {
		return h.fail(c, "Join failed", err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *StoryHandler) getInstance(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	state, err := h.service.GetInstanceState(c.Request().Context(), id, middleware.ParticipantID(c))
	if err != nil {
		return h.fail(c, "Failed to get instance state", err)
	}
	return c.JSON(http.StatusOK, state)
}

func (h *StoryHandler) getNode(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	nodeID, err := uuid.Parse(c.QueryParam("nodeId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid nodeId format")
	}
	view, err := h.service.GetNode(c.Request().Context(), id, middleware.ParticipantID(c), nodeID)
	if err != nil {
		return h.fail(c, "Failed to get node", err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *StoryHandler) submitChoice(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req submitChoiceRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	result, err := h.service.SubmitChoice(c.Request().Context(), id, middleware.ParticipantID(c), req.NodeID, req.ChoiceKey)
	if err != nil {
		return h.fail(c, "Submit choice failed", err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *StoryHandler) nudge(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req nudgeRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	result, err := h.service.Nudge(c.Request().Context(), id, middleware.ParticipantID(c), req.NodeID)
	if err != nil {
		return h.fail(c, "Nudge failed", err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *StoryHandler) listChat(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	limit := service.DefaultChatPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid 'limit' parameter")
		}
		limit = parsed
	}
	messages, err := h.service.ListChat(c.Request().Context(), id, middleware.ParticipantID(c), limit)
	if err != nil {
		return h.fail(c, "Failed to list chat", err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return c.JSON(http.StatusOK, messages)
}

func (h *StoryHandler) postChat(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req postChatRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	msg, err := h.service.PostChat(c.Request().Context(), id, middleware.ParticipantID(c), req.Message)
	if err != nil {
		return h.fail(c, "Failed to post chat message", err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// fail логирует только неожиданные ошибки, доменные отдаются клиенту как есть.
func (h *StoryHandler) fail(c echo.Context, msg string, err error) error {
	if isDomainError(err) {
		h.logger.Debug(msg, zap.String("participantID", middleware.ParticipantID(c)), zap.Error(err))
	} else {
		h.logger.Error(msg, zap.String("participantID", middleware.ParticipantID(c)), zap.Error(err))
	}
	return handleServiceError(c, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		models.ErrUnauthorized, models.ErrNotFound, models.ErrStoryNotFound, models.ErrInstanceNotFound,
		models.ErrNodeNotFound, models.ErrNotParticipant, models.ErrBotParticipantID, models.ErrChoiceNotVisible,
		models.ErrAlreadySubmitted, models.ErrCharacterTaken, models.ErrInstanceNotActive, models.ErrStaleNode,
		models.ErrInvalidChoice, models.ErrNodeMismatch, models.ErrInvalidInput, models.ErrNoAvailableCharacters,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
