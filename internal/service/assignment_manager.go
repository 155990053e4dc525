package service

import (
	"context"
	"errors"
	"fmt"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msgAlreadyJoined = "Already in active story instance"
	msgActivated     = "Story instance activated! All players joined."
	msgWaitingFmt    = "Waiting for %d more players..."
)

// JoinOutcome результат присоединения и признак активации экземпляра этим вызовом.
type JoinOutcome struct {
	Result      models.AssignmentResult
	Activated   bool
	StartNodeID uuid.UUID
	BotsAdded   int
	Rejoined    bool
}

// AssignmentManager раздает персонажей и добирает ботов до полного состава.
type AssignmentManager struct {
	db          interfaces.DBTX
	tx          interfaces.TxManager
	catalog     interfaces.CatalogRepository
	instances   interfaces.InstanceRepository
	assignments interfaces.AssignmentRepository
	rnd         random.Source
	logger      *zap.Logger
}

func NewAssignmentManager(
	db interfaces.DBTX,
	tx interfaces.TxManager,
	catalog interfaces.CatalogRepository,
	instances interfaces.InstanceRepository,
	assignments interfaces.AssignmentRepository,
	rnd random.Source,
	logger *zap.Logger,
) *AssignmentManager {
	return &AssignmentManager{
		db:          db,
		tx:          tx,
		catalog:     catalog,
		instances:   instances,
		assignments: assignments,
		rnd:         rnd,
		logger:      logger.Named("AssignmentManager"),
	}
}

// Join присоединяет участника к истории. Проверка повторного входа, выбор экземпляра,
// назначение персонажа, добор ботов и активация выполняются в одной транзакции.
func (m *AssignmentManager) Join(ctx context.Context, participantID string, storyID uuid.UUID) (*JoinOutcome, error) {
	if participantID == "" {
		return nil, models.ErrUnauthorized
	}
	if models.IsBotParticipant(participantID) {
		return nil, models.ErrBotParticipantID
	}
	log := m.logger.With(zap.String("participantID", participantID), zap.Stringer("storyID", storyID))

	story, err := m.catalog.GetStory(ctx, m.db, storyID)
	if err != nil {
		return nil, err
	}
	if len(story.Characters) == 0 {
		log.Warn("Story has no characters")
		return nil, models.ErrNoAvailableCharacters
	}

	var outcome *JoinOutcome
	err = m.tx.WithTx(ctx, func(tx interfaces.DBTX) error {
		var txErr error
		outcome, txErr = m.joinTx(ctx, tx, story, participantID)
		return txErr
	})
	if err != nil {
		metrics.JoinsTotal.WithLabelValues("error").Inc()
		log.Error("Join failed", zap.Error(err))
		return nil, err
	}

	switch {
	case outcome.Rejoined:
		metrics.JoinsTotal.WithLabelValues("rejoined").Inc()
		log.Info("Participant already in active instance", zap.Stringer("instanceID", outcome.Result.InstanceID))
		return outcome, nil
	case outcome.Activated:
		metrics.JoinsTotal.WithLabelValues("activated").Inc()
	default:
		metrics.JoinsTotal.WithLabelValues("joined").Inc()
	}
	log.Info("Participant joined",
		zap.Stringer("instanceID", outcome.Result.InstanceID),
		zap.String("character", outcome.Result.CharacterName),
		zap.Int("botsAdded", outcome.BotsAdded),
		zap.Bool("activated", outcome.Activated),
	)
	return outcome, nil
}

func (m *AssignmentManager) joinTx(ctx context.Context, tx interfaces.DBTX, story *models.Story, participantID string) (*JoinOutcome, error) {
	// Повторные join одного участника в одну историю выполняются по очереди до коммита.
	if err := m.assignments.LockParticipant(ctx, tx, story.ID, participantID); err != nil {
		return nil, err
	}
	existing, err := m.assignments.FindActive(ctx, tx, story.ID, participantID)
	switch {
	case err == nil:
		inst, err := m.instances.GetByID(ctx, tx, existing.InstanceID)
		if err != nil {
			return nil, err
		}
		return &JoinOutcome{Result: resultFor(inst, existing, msgAlreadyJoined), Rejoined: true}, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	inst, assigned, err := m.pickInstance(ctx, tx, story)
	if err != nil {
		return nil, err
	}

	// участник мог попасть в еще не активный экземпляр раньше
	for i := range assigned {
		if assigned[i].ParticipantID == participantID {
			return &JoinOutcome{Result: resultFor(inst, &assigned[i], waitingOrActive(inst, story.MaxPlayers-len(assigned)))}, nil
		}
	}

	available := availableCharacters(story, assigned)
	if len(available) == 0 {
		return nil, models.ErrNoAvailableCharacters
	}
	picked := random.Pick(m.rnd, available)
	human := &models.CharacterAssignment{
		InstanceID:           inst.ID,
		ParticipantID:        participantID,
		CharacterID:          picked.ID,
		CharacterName:        picked.Name,
		CharacterDescription: picked.Description,
	}
	if err := m.assignments.Create(ctx, tx, human); err != nil {
		return nil, err
	}
	assigned = append(assigned, *human)

	// Боты занимают оставшиеся слоты в порядке персонажей.
	botsAdded := 0
	remaining := story.MaxPlayers - len(assigned)
	for _, ch := range availableCharacters(story, assigned) {
		if botsAdded >= remaining {
			break
		}
		bot := &models.CharacterAssignment{
			InstanceID:           inst.ID,
			ParticipantID:        models.BotParticipantID(inst.ID, ch.ID),
			CharacterID:          ch.ID,
			CharacterName:        ch.Name,
			CharacterDescription: ch.Description,
		}
		if err := m.assignments.Create(ctx, tx, bot); err != nil {
			return nil, fmt.Errorf("failed to assign bot to %q: %w", ch.Name, err)
		}
		assigned = append(assigned, *bot)
		botsAdded++
	}

	outcome := &JoinOutcome{BotsAdded: botsAdded}
	missing := story.MaxPlayers - len(assigned)
	if missing <= 0 && inst.Status == models.InstanceStatusWaiting {
		start, err := m.catalog.GetNode(ctx, tx, story.ID, models.StartNodeKey)
		if err != nil {
			if errors.Is(err, models.ErrNodeNotFound) {
				metrics.ContentDefectsTotal.WithLabelValues("missing_start").Inc()
				m.logger.Warn("Story has no start node, instance cannot be activated", zap.Stringer("storyID", story.ID))
			}
			return nil, err
		}
		activated, err := m.instances.Activate(ctx, tx, inst.ID, start.ID)
		if err != nil {
			return nil, err
		}
		if activated {
			inst.Status = models.InstanceStatusActive
			if inst.CurrentNodeID == nil {
				inst.CurrentNodeID = &start.ID
			}
			outcome.Activated = true
			outcome.StartNodeID = *inst.CurrentNodeID
		}
	}

	outcome.Result = resultFor(inst, human, waitingOrActive(inst, missing))
	return outcome, nil
}

// pickInstance первый по времени создания открытый экземпляр со свободным местом или новый.
func (m *AssignmentManager) pickInstance(ctx context.Context, tx interfaces.DBTX, story *models.Story) (*models.StoryInstance, []models.CharacterAssignment, error) {
	slots, err := m.instances.ListOpen(ctx, tx, story.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, slot := range slots {
		if slot.AssignedCount >= story.MaxPlayers {
			continue
		}
		inst, err := m.instances.LockByID(ctx, tx, slot.ID)
		if err != nil {
			return nil, nil, err
		}
		if inst.Status == models.InstanceStatusCompleted {
			continue
		}
		// после блокировки счетчик мог измениться
		assigned, err := m.assignments.ListByInstance(ctx, tx, inst.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(assigned) >= story.MaxPlayers {
			continue
		}
		return inst, assigned, nil
	}

	inst, err := m.instances.Create(ctx, tx, story.ID)
	if err != nil {
		return nil, nil, err
	}
	return inst, nil, nil
}

func availableCharacters(story *models.Story, assigned []models.CharacterAssignment) []models.Character {
	taken := make(map[uuid.UUID]struct{}, len(assigned))
	for _, a := range assigned {
		taken[a.CharacterID] = struct{}{}
	}
	available := make([]models.Character, 0, len(story.Characters))
	for _, ch := range story.Characters {
		if _, ok := taken[ch.ID]; !ok {
			available = append(available, ch)
		}
	}
	return available
}

func waitingOrActive(inst *models.StoryInstance, missing int) string {
	if inst.Status == models.InstanceStatusWaiting && missing > 0 {
		return fmt.Sprintf(msgWaitingFmt, missing)
	}
	return msgActivated
}

func resultFor(inst *models.StoryInstance, a *models.CharacterAssignment, message string) models.AssignmentResult {
	return models.AssignmentResult{
		InstanceID:     inst.ID,
		CharacterName:  a.CharacterName,
		CharacterID:    a.CharacterID,
		CurrentNodeID:  inst.CurrentNodeID,
		InstanceStatus: inst.Status,
		Message:        message,
	}
}
