package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxChatMessageLength = 500
	DefaultChatPageSize  = 50
	MaxChatPageSize      = 100
)

// StoryService операции ядра, доступные слою представления.
type StoryService interface {
	ListStories(ctx context.Context) ([]models.StorySummary, error)
	Join(ctx context.Context, participantID string, storyID uuid.UUID) (*models.AssignmentResult, error)
	GetInstanceState(ctx context.Context, instanceID uuid.UUID, participantID string) (*models.InstanceState, error)
	GetNode(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID) (*models.NodeView, error)
	SubmitChoice(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID, choiceKey string) (*models.SubmitResult, error)
	Nudge(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID) (*models.SubmitResult, error)
	ListChat(ctx context.Context, instanceID uuid.UUID, participantID string, limit int) ([]models.ChatMessage, error)
	PostChat(ctx context.Context, instanceID uuid.UUID, participantID string, message string) (*models.ChatMessage, error)
	// Authorize проверяет, что участник назначен в экземпляр.
	Authorize(ctx context.Context, instanceID uuid.UUID, participantID string) error
}

// Deps хранилища и шина событий фасада.
type Deps struct {
	DB          interfaces.DBTX
	Catalog     interfaces.CatalogRepository
	Instances   interfaces.InstanceRepository
	Assignments interfaces.AssignmentRepository
	Ledger      interfaces.ChoiceLedger
	Chat        interfaces.ChatRepository
	Publisher   interfaces.InstanceEventPublisher
}

type storyServiceImpl struct {
	deps       Deps
	joiner     *AssignmentManager
	registry   *InstanceRegistry
	engine     *ProgressionEngine
	botChat    *BotChat
	dispatcher *Dispatcher
	rnd        random.Source
	botCfg     config.BotConfig
	budget     time.Duration
	logger     *zap.Logger
}

var _ StoryService = (*storyServiceImpl)(nil)

// NewStoryService собирает фасад и привязывает его к диспетчеру как исполнителя задач.
func NewStoryService(
	deps Deps,
	joiner *AssignmentManager,
	registry *InstanceRegistry,
	engine *ProgressionEngine,
	botChat *BotChat,
	dispatcher *Dispatcher,
	rnd random.Source,
	botCfg config.BotConfig,
	budget time.Duration,
	logger *zap.Logger,
) *storyServiceImpl {
	if deps.Publisher == nil {
		deps.Publisher = NoopPublisher()
	}
	if budget <= 0 {
		budget = 4 * time.Second
	}
	s := &storyServiceImpl{
		deps:       deps,
		joiner:     joiner,
		registry:   registry,
		engine:     engine,
		botChat:    botChat,
		dispatcher: dispatcher,
		rnd:        rnd,
		botCfg:     botCfg,
		budget:     budget,
		logger:     logger.Named("StoryService"),
	}
	dispatcher.Bind(s.HandleTask)
	return s
}

func (s *storyServiceImpl) ListStories(ctx context.Context) ([]models.StorySummary, error) {
	return s.deps.Catalog.ListStories(ctx, s.deps.DB)
}

// Join назначает персонажа. При активации планирует выборы ботов на стартовом узле и чат.
func (s *storyServiceImpl) Join(ctx context.Context, participantID string, storyID uuid.UUID) (*models.AssignmentResult, error) {
	if participantID == "" {
		return nil, models.ErrUnauthorized
	}
	if models.IsBotParticipant(participantID) {
		return nil, models.ErrBotParticipantID
	}
	outcome, err := s.joiner.Join(ctx, participantID, storyID)
	if err != nil {
		return nil, err
	}
	if outcome.Activated {
		instanceID := outcome.Result.InstanceID
		s.registry.Activated(ctx, instanceID, outcome.StartNodeID)
		bg := context.WithoutCancel(ctx)
		s.dispatcher.After(bg, models.Task{
			Kind:       models.TaskBotChoices,
			InstanceID: instanceID,
			NodeID:     outcome.StartNodeID,
		}, s.botCfg.ChoiceDelay)
		s.dispatcher.After(bg, models.Task{
			Kind:       models.TaskBotChat,
			InstanceID: instanceID,
		}, random.Between(s.rnd, s.botCfg.ChatIntervalMin, s.botCfg.ChatIntervalMax))
	}
	return &outcome.Result, nil
}

func (s *storyServiceImpl) Authorize(ctx context.Context, instanceID uuid.UUID, participantID string) error {
	_, _, err := s.participant(ctx, instanceID, participantID)
	return err
}

// participant проверяет идентификатор, существование экземпляра и назначение.
func (s *storyServiceImpl) participant(ctx context.Context, instanceID uuid.UUID, participantID string) (*models.StoryInstance, *models.CharacterAssignment, error) {
	if participantID == "" {
		return nil, nil, models.ErrUnauthorized
	}
	if models.IsBotParticipant(participantID) {
		return nil, nil, models.ErrBotParticipantID
	}
	inst, err := s.deps.Instances.GetByID(ctx, s.deps.DB, instanceID)
	if err != nil {
		return nil, nil, err
	}
	mine, err := s.deps.Assignments.Get(ctx, s.deps.DB, instanceID, participantID)
	if err != nil {
		return nil, nil, err
	}
	return inst, mine, nil
}

func (s *storyServiceImpl) GetInstanceState(ctx context.Context, instanceID uuid.UUID, participantID string) (*models.InstanceState, error) {
	inst, mine, err := s.participant(ctx, instanceID, participantID)
	if err != nil {
		return nil, err
	}
	story, err := s.deps.Catalog.GetStory(ctx, s.deps.DB, inst.StoryID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.deps.Assignments.ListByInstance(ctx, s.deps.DB, instanceID)
	if err != nil {
		return nil, err
	}

	state := &models.InstanceState{
		Instance:   *inst,
		StoryTitle: story.Title,
		MaxPlayers: story.MaxPlayers,
		Characters: make([]models.CharacterSummary, 0, len(story.Characters)),
		MyCharacter: models.MyCharacter{
			ID:          mine.CharacterID,
			Name:        mine.CharacterName,
			Description: mine.CharacterDescription,
			IsRevealed:  mine.IsRevealed,
		},
		Revealed: make([]models.RevealedParticipant, 0),
	}
	for _, ch := range story.Characters {
		state.Characters = append(state.Characters, models.CharacterSummary{ID: ch.ID, Name: ch.Name})
	}
	for _, a := range assignments {
		if !a.IsRevealed || a.ParticipantID == participantID {
			continue
		}
		state.Revealed = append(state.Revealed, models.RevealedParticipant{
			CharacterID:   a.CharacterID,
			CharacterName: a.CharacterName,
			IsBot:         a.IsBot(),
		})
	}
	return state, nil
}

// GetNode узел с вариантами, видимыми персонажу участника. Узел может быть и пройденным.
func (s *storyServiceImpl) GetNode(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID) (*models.NodeView, error) {
	inst, mine, err := s.participant(ctx, instanceID, participantID)
	if err != nil {
		return nil, err
	}
	node, err := s.nodeOf(ctx, inst, nodeID)
	if err != nil {
		return nil, err
	}
	snap, err := s.deps.Instances.QuorumSnapshot(ctx, s.deps.DB, instanceID, nodeID)
	if err != nil {
		return nil, err
	}

	view := &models.NodeView{
		ID:        node.ID,
		Key:       node.Key,
		Title:     node.Title,
		Body:      node.Body,
		IsEnding:  node.IsEnding,
		IsCurrent: inst.IsAt(nodeID),
		Choices:   node.VisibleChoices(mine.CharacterName),
		Progress:  models.VoteProgress{Submitted: snap.Submitted, Expected: snap.Expected},
	}
	sub, err := s.deps.Ledger.Get(ctx, s.deps.DB, instanceID, nodeID, participantID)
	switch {
	case err == nil:
		view.MyChoice = &sub.ChoiceKey
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	return view, nil
}

func (s *storyServiceImpl) nodeOf(ctx context.Context, inst *models.StoryInstance, nodeID uuid.UUID) (*models.StoryNode, error) {
	node, err := s.deps.Catalog.GetNodeByID(ctx, s.deps.DB, nodeID)
	if err != nil {
		return nil, err
	}
	if node.StoryID != inst.StoryID {
		return nil, models.ErrNodeMismatch
	}
	return node, nil
}

// SubmitChoice записывает выбор и в пределах бюджета запроса двигает экземпляр.
// Повторная отправка считается успехом с AlreadySubmitted.
func (s *storyServiceImpl) SubmitChoice(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID, choiceKey string) (*models.SubmitResult, error) {
	log := s.logger.With(
		zap.Stringer("instanceID", instanceID),
		zap.Stringer("nodeID", nodeID),
		zap.String("participantID", participantID),
	)
	inst, mine, err := s.participant(ctx, instanceID, participantID)
	if err != nil {
		return nil, err
	}

	if !inst.IsAt(nodeID) || inst.Status != models.InstanceStatusActive {
		// повтор после того, как экземпляр уже ушел с узла
		if _, getErr := s.deps.Ledger.Get(ctx, s.deps.DB, instanceID, nodeID, participantID); getErr == nil {
			return s.result(ctx, instanceID, true, "")
		}
		if inst.Status != models.InstanceStatusActive {
			return nil, models.ErrInstanceNotActive
		}
		return nil, models.ErrStaleNode
	}

	node, err := s.nodeOf(ctx, inst, nodeID)
	if err != nil {
		return nil, err
	}
	choice, ok := node.ChoiceByKey(choiceKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidChoice, choiceKey)
	}
	if !choice.VisibleTo(mine.CharacterName) {
		return nil, models.ErrChoiceNotVisible
	}

	already := false
	err = s.deps.Ledger.Submit(ctx, s.deps.DB, &models.ChoiceSubmission{
		InstanceID:    instanceID,
		NodeID:        nodeID,
		ParticipantID: participantID,
		ChoiceKey:     choiceKey,
	})
	switch {
	case errors.Is(err, models.ErrAlreadySubmitted):
		already = true
		log.Info("Choice already recorded")
	case err != nil:
		return nil, err
	default:
		metrics.ChoicesTotal.WithLabelValues("human").Inc()
		publishUpdate(ctx, s.deps.Publisher, s.logger, models.InstanceUpdate{
			Type:       models.InstanceEventChoiceAdded,
			InstanceID: instanceID,
			NodeID:     &nodeID,
			Status:     inst.Status,
		})
	}

	step := s.driveWithinBudget(ctx, instanceID, nodeID)
	return s.result(ctx, instanceID, already, step)
}

// Nudge запасной триггер: клиент видит, что экземпляр стоит на узле, и просит шаг.
func (s *storyServiceImpl) Nudge(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID) (*models.SubmitResult, error) {
	inst, _, err := s.participant(ctx, instanceID, participantID)
	if err != nil {
		return nil, err
	}
	if _, err := s.nodeOf(ctx, inst, nodeID); err != nil {
		return nil, err
	}
	step := ""
	if inst.Status == models.InstanceStatusActive && inst.IsAt(nodeID) {
		step = s.driveWithinBudget(ctx, instanceID, nodeID)
	}
	return s.result(ctx, instanceID, false, step)
}

// driveWithinBudget двигает экземпляр не дольше бюджета запроса. Незавершенная работа
// уходит в очередь задач, ошибка запроса не возникает.
func (s *storyServiceImpl) driveWithinBudget(ctx context.Context, instanceID, nodeID uuid.UUID) string {
	budgetCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	out, err := s.engine.Drive(budgetCtx, instanceID, nodeID)
	if err == nil && out.Result != StepAwaitingBots {
		return string(out.Result)
	}
	if err != nil {
		s.logger.Warn("Progression did not finish within request budget, deferring",
			zap.Stringer("instanceID", instanceID),
			zap.Stringer("nodeID", nodeID),
			zap.Error(err),
		)
	}
	s.dispatcher.After(context.WithoutCancel(ctx), models.Task{
		Kind:       models.TaskBotChoices,
		InstanceID: instanceID,
		NodeID:     nodeID,
	}, 0)
	return string(StepAwaitingBots)
}

func (s *storyServiceImpl) result(ctx context.Context, instanceID uuid.UUID, already bool, step string) (*models.SubmitResult, error) {
	inst, err := s.deps.Instances.GetByID(ctx, s.deps.DB, instanceID)
	if err != nil {
		return nil, err
	}
	return &models.SubmitResult{
		Success:          true,
		AlreadySubmitted: already,
		InstanceStatus:   inst.Status,
		CurrentNodeID:    inst.CurrentNodeID,
		Step:             step,
	}, nil
}

func (s *storyServiceImpl) ListChat(ctx context.Context, instanceID uuid.UUID, participantID string, limit int) ([]models.ChatMessage, error) {
	if _, _, err := s.participant(ctx, instanceID, participantID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultChatPageSize
	case limit > MaxChatPageSize:
		limit = MaxChatPageSize
	}
	return s.deps.Chat.ListRecent(ctx, s.deps.DB, instanceID, limit)
}

// PostChat сообщение от имени персонажа участника. Боты отвечают с задержкой.
func (s *storyServiceImpl) PostChat(ctx context.Context, instanceID uuid.UUID, participantID string, message string) (*models.ChatMessage, error) {
	_, mine, err := s.participant(ctx, instanceID, participantID)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if n := utf8.RuneCountInString(message); n == 0 || n > MaxChatMessageLength {
		return nil, fmt.Errorf("%w: message must be 1..%d characters", models.ErrInvalidInput, MaxChatMessageLength)
	}

	msg := &models.ChatMessage{
		InstanceID:    instanceID,
		CharacterID:   mine.CharacterID,
		CharacterName: mine.CharacterName,
		Message:       message,
	}
	if err := s.deps.Chat.Append(ctx, s.deps.DB, msg); err != nil {
		return nil, err
	}
	publishUpdate(ctx, s.deps.Publisher, s.logger, models.InstanceUpdate{
		Type:        models.InstanceEventChatMessage,
		InstanceID:  instanceID,
		ChatMessage: msg,
	})
	s.dispatcher.After(context.WithoutCancel(ctx), models.Task{
		Kind:       models.TaskBotChatReply,
		InstanceID: instanceID,
	}, random.Between(s.rnd, s.botCfg.ChatReplyDelayMin, s.botCfg.ChatReplyDelayMax))
	return msg, nil
}

// HandleTask исполняет отложенную задачу из очереди или из локального запуска.
func (s *storyServiceImpl) HandleTask(ctx context.Context, task models.Task) error {
	switch task.Kind {
	case models.TaskBotChoices:
		_, err := s.engine.Drive(ctx, task.InstanceID, task.NodeID)
		return err
	case models.TaskBotChat:
		active, err := s.botChat.Periodic(ctx, task.InstanceID)
		if active {
			s.dispatcher.After(ctx, task, random.Between(s.rnd, s.botCfg.ChatIntervalMin, s.botCfg.ChatIntervalMax))
		}
		return err
	case models.TaskBotChatReply:
		return s.botChat.Reply(ctx, task.InstanceID)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
