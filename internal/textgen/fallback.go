package textgen

import (
	"context"
	"errors"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"go.uber.org/zap"
)

var replyPhrases = []string{
	"I see...",
	"That makes sense.",
	"Interesting point.",
	"Hmm, let me think about that.",
	"I agree with you.",
	"Not sure about that, but okay.",
	"Yeah, I think so too.",
}

var generalPhrases = []string{
	"Interesting...",
	"What do you all think?",
	"This is getting interesting.",
	"Let me think about this.",
	"I see what you mean.",
	"We should be careful here.",
	"Sounds good to me.",
}

// Fallback вызывает основной генератор и при любой ошибке отдает фразу из банка.
type Fallback struct {
	primary interfaces.TextGenerator
	rnd     random.Source
	logger  *zap.Logger
}

var _ interfaces.TextGenerator = (*Fallback)(nil)

// NewFallback primary может быть nil. rnd nil - источник по времени.
func NewFallback(primary interfaces.TextGenerator, rnd random.Source, logger *zap.Logger) *Fallback {
	if rnd == nil {
		rnd = random.NewTimeSeeded()
	}
	return &Fallback{primary: primary, rnd: rnd, logger: logger.Named("TextgenFallback")}
}

// Generate никогда не возвращает ошибку, кроме отмены контекста вызывающим.
func (f *Fallback) Generate(ctx context.Context, req models.BotLineRequest) (string, error) {
	if f.primary != nil {
		text, err := f.primary.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.logger.Warn("Generator unavailable, using phrase bank",
			zap.String("character", req.CharacterName),
			zap.Error(err),
		)
	}
	metrics.TextgenRequestsTotal.WithLabelValues("fallback", "success").Inc()
	return f.Phrase(req), nil
}

// Phrase фраза из банка ответов или общего банка.
func (f *Fallback) Phrase(req models.BotLineRequest) string {
	if req.IsReply() {
		return random.Pick(f.rnd, replyPhrases)
	}
	return random.Pick(f.rnd, generalPhrases)
}
