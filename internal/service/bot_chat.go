package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const minBotLineLength = 2

// LineTrimmer обрезает историю чата до бюджета токенов.
type LineTrimmer interface {
	Trim(lines []models.ChatLine, maxTokens int) []models.ChatLine
}

// BotChat реплики ботов в чате экземпляра. Ошибки наружу не влияют на действия людей.
type BotChat struct {
	db          interfaces.DBTX
	catalog     interfaces.CatalogRepository
	instances   interfaces.InstanceRepository
	assignments interfaces.AssignmentRepository
	chat        interfaces.ChatRepository
	cooldown    interfaces.ChatCooldown
	generator   interfaces.TextGenerator
	trimmer     LineTrimmer
	publisher   interfaces.InstanceEventPublisher
	rnd         random.Source
	cfg         config.BotConfig
	logger      *zap.Logger
}

func NewBotChat(
	db interfaces.DBTX,
	catalog interfaces.CatalogRepository,
	instances interfaces.InstanceRepository,
	assignments interfaces.AssignmentRepository,
	chat interfaces.ChatRepository,
	cooldown interfaces.ChatCooldown,
	generator interfaces.TextGenerator,
	trimmer LineTrimmer,
	publisher interfaces.InstanceEventPublisher,
	rnd random.Source,
	cfg config.BotConfig,
	logger *zap.Logger,
) *BotChat {
	if publisher == nil {
		publisher = NoopPublisher()
	}
	if cfg.ChatHistoryLines <= 0 {
		cfg.ChatHistoryLines = 10
	}
	return &BotChat{
		db:          db,
		catalog:     catalog,
		instances:   instances,
		assignments: assignments,
		chat:        chat,
		cooldown:    cooldown,
		generator:   generator,
		trimmer:     trimmer,
		publisher:   publisher,
		rnd:         rnd,
		cfg:         cfg,
		logger:      logger.Named("BotChat"),
	}
}

// Periodic случайный бот говорит что-нибудь, если недавно никто из ботов не говорил.
// active=false, если экземпляр больше не ACTIVE и расписание нужно прекратить.
func (c *BotChat) Periodic(ctx context.Context, instanceID uuid.UUID) (active bool, err error) {
	inst, err := c.instances.GetByID(ctx, c.db, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status != models.InstanceStatusActive {
		return false, nil
	}
	if c.rnd.Float64() >= c.cfg.PeriodicChatChance {
		metrics.BotChatTotal.WithLabelValues("skipped").Inc()
		return true, nil
	}
	if c.cooldown != nil {
		acquired, err := c.cooldown.TryAcquire(ctx, instanceID)
		if err != nil {
			return true, err
		}
		if !acquired {
			metrics.BotChatTotal.WithLabelValues("skipped").Inc()
			return true, nil
		}
	}
	_, err = c.speak(ctx, inst, false)
	return true, err
}

// Reply отвечает на последнюю реплику человека без проверки кулдауна.
func (c *BotChat) Reply(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := c.instances.GetByID(ctx, c.db, instanceID)
	if err != nil {
		return err
	}
	spoke, err := c.speak(ctx, inst, true)
	if err != nil {
		return err
	}
	if spoke && c.cooldown != nil {
		if err := c.cooldown.Touch(ctx, instanceID); err != nil {
			c.logger.Warn("Failed to refresh chat cooldown", zap.Stringer("instanceID", instanceID), zap.Error(err))
		}
	}
	return nil
}

func (c *BotChat) speak(ctx context.Context, inst *models.StoryInstance, reply bool) (bool, error) {
	log := c.logger.With(zap.Stringer("instanceID", inst.ID), zap.Bool("reply", reply))

	assignments, err := c.assignments.ListByInstance(ctx, c.db, inst.ID)
	if err != nil {
		return false, err
	}
	bots := make([]models.CharacterAssignment, 0, len(assignments))
	for _, a := range assignments {
		if a.IsBot() {
			bots = append(bots, a)
		}
	}
	if len(bots) == 0 {
		return false, nil
	}

	history, err := c.chat.ListRecent(ctx, c.db, inst.ID, c.cfg.ChatHistoryLines)
	if err != nil {
		return false, err
	}
	lines := make([]models.ChatLine, 0, len(history))
	trigger := ""
	for _, m := range history {
		lines = append(lines, models.ChatLine{Speaker: m.CharacterName, Text: m.Message, FromBot: m.FromBot})
		if !m.FromBot {
			trigger = m.Message
		}
	}
	if reply && trigger == "" {
		log.Debug("Nothing to reply to")
		return false, nil
	}
	if !reply {
		trigger = ""
	}
	if c.trimmer != nil {
		lines = c.trimmer.Trim(lines, c.cfg.ChatHistoryTokenCap)
	}

	speaker := random.Pick(c.rnd, bots)
	storyContext, err := c.storyContext(ctx, inst)
	if err != nil {
		return false, err
	}

	text, err := c.generator.Generate(ctx, models.BotLineRequest{
		CharacterName:        speaker.CharacterName,
		CharacterDescription: speaker.CharacterDescription,
		StoryContext:         storyContext,
		RecentLines:          lines,
		TriggeringLine:       trigger,
	})
	if err != nil {
		return false, err
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minBotLineLength {
		metrics.BotChatTotal.WithLabelValues("dropped").Inc()
		log.Debug("Generated line too short, dropped", zap.String("character", speaker.CharacterName))
		return false, nil
	}

	msg := &models.ChatMessage{
		InstanceID:    inst.ID,
		CharacterID:   speaker.CharacterID,
		CharacterName: speaker.CharacterName,
		FromBot:       true,
		Message:       text,
	}
	if err := c.chat.Append(ctx, c.db, msg); err != nil {
		return false, err
	}
	source := "periodic"
	if reply {
		source = "reply"
	}
	metrics.BotChatTotal.WithLabelValues(source).Inc()
	publishUpdate(ctx, c.publisher, c.logger, models.InstanceUpdate{
		Type:        models.InstanceEventChatMessage,
		InstanceID:  inst.ID,
		ChatMessage: msg,
	})
	log.Debug("Bot line posted", zap.String("character", speaker.CharacterName))
	return true, nil
}

func (c *BotChat) storyContext(ctx context.Context, inst *models.StoryInstance) (string, error) {
	story, err := c.catalog.GetStory(ctx, c.db, inst.StoryID)
	if err != nil {
		return "", err
	}
	if inst.CurrentNodeID == nil {
		return fmt.Sprintf("Story: %s\nThe story is just beginning.", story.Title), nil
	}
	node, err := c.catalog.GetNodeByID(ctx, c.db, *inst.CurrentNodeID)
	if err != nil {
		return fmt.Sprintf("Story: %s\nThe story is progressing.", story.Title), nil
	}
	return fmt.Sprintf("Story: %s\nCurrent Scene: %s\n%s", story.Title, node.Title, node.Body), nil
}
