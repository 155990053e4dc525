package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"multiverse-server/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubVerifier map[string]error

func (s stubVerifier) VerifyToken(_ context.Context, token string) (*models.Claims, error) {
	if err, ok := s[token]; ok {
		return nil, err
	}
	return &models.Claims{UserID: "user-" + token}, nil
}

func newEcho(t *testing.T) (*echo.Echo, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)))
	verifier := stubVerifier{
		"expired": models.ErrTokenExpired,
		"broken":  errors.New("verifier exploded"),
	}
	g := e.Group("", Auth(verifier, zap.NewNop()))
	g.GET("/me", func(c echo.Context) error {
		fromCtx, _ := models.ParticipantFromContext(c.Request().Context())
		return c.String(http.StatusOK, ParticipantID(c)+"|"+fromCtx)
	})
	return e, logs
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantBody string
	}{
		{"Bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusOK, "user-abc|user-abc"},
		{"Missing header", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"Wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized, ""},
		{"Expired", func(r *http.Request) { r.Header.Set("Authorization", "Bearer expired") }, http.StatusUnauthorized, ""},
		{"Verifier failure", func(r *http.Request) { r.Header.Set("Authorization", "Bearer broken") }, http.StatusInternalServerError, ""},
		{"Query token outside websocket", func(r *http.Request) { r.URL.RawQuery = "token=abc" }, http.StatusUnauthorized, ""},
		{"Query token on websocket upgrade", func(r *http.Request) {
			r.URL.RawQuery = "token=ws"
			r.Header.Set("Upgrade", "websocket")
		}, http.StatusOK, "user-ws|user-ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEcho(t)
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	e, logs := newEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer abc")
	e.ServeHTTP(httptest.NewRecorder(), req)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/me", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Request served", entries[0].Message)
	assert.Equal(t, "user-abc", entries[0].ContextMap()["participantID"])
	assert.Equal(t, "Request rejected", entries[1].Message)
	assert.EqualValues(t, http.StatusUnauthorized, entries[1].ContextMap()["status"])
}
