package textgen

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"multiverse-server/internal/config"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type openAIGenerator struct {
	client *openaigo.Client
	params Params
	logger *zap.Logger
}

func newOpenAIGenerator(cfg config.AIConfig, logger *zap.Logger) *openAIGenerator {
	params := paramsFromConfig(cfg)
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: params.Timeout}

	logger.Info("OpenAI text generator created",
		zap.String("baseURL", clientCfg.BaseURL),
		zap.String("model", params.Model),
		zap.Duration("timeout", params.Timeout),
	)
	return &openAIGenerator{
		client: openaigo.NewClientWithConfig(clientCfg),
		params: params,
		logger: logger.Named("OpenAIGenerator"),
	}
}

func (g *openAIGenerator) Generate(ctx context.Context, req models.BotLineRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.params.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: g.params.Model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openaigo.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		MaxTokens:   g.params.MaxTokens,
		Temperature: g.params.Temperature,
	})
	duration := time.Since(start)
	metrics.TextgenDuration.WithLabelValues("openai").Observe(duration.Seconds())

	if err != nil {
		metrics.TextgenRequestsTotal.WithLabelValues("openai", "error").Inc()
		g.logger.Warn("OpenAI request failed", zap.Duration("duration", duration), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.TextgenRequestsTotal.WithLabelValues("openai", "empty").Inc()
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	metrics.TextgenRequestsTotal.WithLabelValues("openai", "success").Inc()
	g.logger.Debug("OpenAI line generated",
		zap.String("character", req.CharacterName),
		zap.Duration("duration", duration),
		zap.Int("totalTokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
