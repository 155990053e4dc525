package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config настройки логгера процесса.
type Config struct {
	Level      string // debug, info, warn, error; пусто - info
	Encoding   string // json или console; пусто - json
	OutputPath string // файл или stdout/stderr; пусто - stdout
	Service    string // имя бинаря, попадает в каждую запись
}

// ParseLevel разбирает уровень без учета регистра. warning - синоним warn.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

func encoderFor(encoding string) (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	case "console":
		return zapcore.NewConsoleEncoder(encCfg), nil
	default:
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}
}

// New собирает zap.Logger. Неизвестный уровень или формат - ошибка конфигурации,
// молча откатываться на info нельзя.
func New(cfg Config) (*zap.Logger, error) {
	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %q: %w", output, err)
	}
	return build(cfg, sink)
}

// build общая часть New, ws подменяется в тестах.
func build(cfg Config, ws zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	enc, err := encoderFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(lvl))
	log := zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	if cfg.Service != "" {
		log = log.With(zap.String("service", cfg.Service))
	}
	return log, nil
}
