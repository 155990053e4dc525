package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"multiverse-server/internal/config"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

type ollamaGenerator struct {
	client *api.Client
	params Params
	logger *zap.Logger
}

func newOllamaGenerator(cfg config.AIConfig, logger *zap.Logger) (*ollamaGenerator, error) {
	params := paramsFromConfig(cfg)

	// api.NewClient ждет адрес без суффикса /v1
	base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	if base == "" {
		base = "http://localhost:11434"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", base, err)
	}

	logger.Info("Ollama text generator created",
		zap.String("baseURL", base),
		zap.String("model", params.Model),
		zap.Duration("timeout", params.Timeout),
	)
	return &ollamaGenerator{
		client: api.NewClient(parsed, &http.Client{Timeout: params.Timeout}),
		params: params,
		logger: logger.Named("OllamaGenerator"),
	}, nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, req models.BotLineRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.params.Timeout)
	defer cancel()

	stream := false
	chatReq := &api.ChatRequest{
		Model: g.params.Model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt(req)},
			{Role: "user", Content: userPrompt(req)},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": g.params.Temperature,
			"num_predict": g.params.MaxTokens,
		},
	}

	start := time.Now()
	var resp api.ChatResponse
	err := g.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	metrics.TextgenDuration.WithLabelValues("ollama").Observe(duration.Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.TextgenRequestsTotal.WithLabelValues("ollama", status).Inc()
		g.logger.Warn("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		metrics.TextgenRequestsTotal.WithLabelValues("ollama", "empty").Inc()
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	metrics.TextgenRequestsTotal.WithLabelValues("ollama", "success").Inc()
	g.logger.Debug("Ollama line generated",
		zap.String("character", req.CharacterName),
		zap.Duration("duration", duration),
		zap.Int("evalCount", resp.EvalCount),
	)
	return resp.Message.Content, nil
}
