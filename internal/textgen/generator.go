package textgen

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces"

	"go.uber.org/zap"
)

// ErrGenerationFailed внешний генератор недоступен или вернул пустой ответ.
var ErrGenerationFailed = errors.New("text generation failed")

// Параметры по умолчанию.
const (
	defaultMaxTokens    = 100
	defaultTemperature  = 0.8
	defaultTimeout      = 8 * time.Second
	contextMessageLimit = 5
)

// Params общие параметры генерации.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func paramsFromConfig(cfg config.AIConfig) Params {
	p := Params{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = defaultTemperature
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	return p
}

// New создает генератор по конфигурации. Провайдер "none" дает только фразы-заглушки.
// Любой внешний провайдер оборачивается в Fallback, поэтому ошибка генерации наружу не выходит.
func New(cfg config.AIConfig, logger *zap.Logger) (interfaces.TextGenerator, error) {
	var primary interfaces.TextGenerator
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		primary = newOpenAIGenerator(cfg, logger)
	case "ollama":
		g, err := newOllamaGenerator(cfg, logger)
		if err != nil {
			return nil, err
		}
		primary = g
	case "", "none":
		logger.Info("Text generation disabled, bots use phrase banks")
	default:
		return nil, fmt.Errorf("unknown text generation provider %q", cfg.Provider)
	}
	return NewFallback(primary, nil, logger), nil
}
