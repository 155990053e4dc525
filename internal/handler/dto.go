package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// APIError стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// required на uuid.UUID отклоняет нулевой идентификатор
type submitChoiceRequest struct {
	NodeID    uuid.UUID `json:"nodeId" validate:"required"`
	ChoiceKey string    `json:"choiceKey" validate:"required,max=128"`
}

type nudgeRequest struct {
	NodeID uuid.UUID `json:"nodeId" validate:"required"`
}

// длина сообщения после trim проверяется в сервисе
type postChatRequest struct {
	Message string `json:"message" validate:"required"`
}

// RequestValidator подключает validator/v10 к echo.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request: "+err.Error())
	}
	return nil
}
