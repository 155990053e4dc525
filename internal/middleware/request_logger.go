package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger пишет одну запись на запрос. Уровень зависит от итогового статуса.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			began := time.Now()
			err := next(c)
			if err != nil {
				// статус выставит HTTPErrorHandler
				c.Error(err)
			}

			status := c.Response().Status
			ce := log.Check(levelFor(status), outcome(status))
			if ce == nil {
				return nil
			}
			r := c.Request()
			fields := make([]zap.Field, 0, 9)
			fields = append(fields,
				zap.String("method", r.Method),
				zap.String("route", c.Path()),
				zap.String("uri", r.RequestURI),
				zap.String("remoteIP", c.RealIP()),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(began)),
			)
			if rid := requestID(c); rid != "" {
				fields = append(fields, zap.String("requestID", rid))
			}
			if pid := ParticipantID(c); pid != "" {
				fields = append(fields, zap.String("participantID", pid))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			ce.Write(fields...)
			return nil
		}
	}
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

func outcome(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "Request failed"
	case status >= http.StatusBadRequest:
		return "Request rejected"
	}
	return "Request served"
}

func requestID(c echo.Context) string {
	if id := c.Request().Header.Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
