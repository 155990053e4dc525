package textgen

import (
	"context"
	"errors"
	"testing"

	"multiverse-server/internal/interfaces/mocks"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFallbackUsesPrimaryWhenAvailable(t *testing.T) {
	primary := new(mocks.TextGenerator)
	req := models.BotLineRequest{CharacterName: "Guardian"}
	primary.On("Generate", mock.Anything, req).Return("Stay close to me.", nil)

	fb := NewFallback(primary, random.New(1), zap.NewNop())
	text, err := fb.Generate(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Stay close to me.", text)
	primary.AssertExpectations(t)
}

func TestFallbackReplyBankOnUpstreamFailure(t *testing.T) {
	primary := new(mocks.TextGenerator)
	req := models.BotLineRequest{CharacterName: "Villager", TriggeringLine: "Should we go left?"}
	primary.On("Generate", mock.Anything, req).Return("", ErrGenerationFailed)

	fb := NewFallback(primary, random.New(3), zap.NewNop())
	text, err := fb.Generate(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, replyPhrases, text)
}

func TestFallbackGeneralBankWithoutPrimary(t *testing.T) {
	fb := NewFallback(nil, random.New(5), zap.NewNop())
	for i := 0; i < 20; i++ {
		text, err := fb.Generate(context.Background(), models.BotLineRequest{CharacterName: "Scout"})
		require.NoError(t, err)
		assert.Contains(t, generalPhrases, text)
	}
}

func TestFallbackPropagatesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := new(mocks.TextGenerator)
	primary.On("Generate", mock.Anything, mock.Anything).Return("", context.Canceled)

	fb := NewFallback(primary, random.New(1), zap.NewNop())
	_, err := fb.Generate(ctx, models.BotLineRequest{})

	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(configWithProvider("markov"), zap.NewNop())
	assert.Error(t, err)

	gen, err := New(configWithProvider("none"), zap.NewNop())
	require.NoError(t, err)
	text, err := gen.Generate(context.Background(), models.BotLineRequest{})
	require.NoError(t, err)
	assert.Contains(t, generalPhrases, text)
}
