package service

import (
	"context"
	"errors"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BotDriver делает выборы за ботов, которые еще не выбрали на узле.
type BotDriver struct {
	db          interfaces.DBTX
	catalog     interfaces.CatalogRepository
	assignments interfaces.AssignmentRepository
	ledger      interfaces.ChoiceLedger
	publisher   interfaces.InstanceEventPublisher
	rnd         random.Source
	sleep       SleepFunc
	cfg         config.BotConfig
	logger      *zap.Logger
}

func NewBotDriver(
	db interfaces.DBTX,
	catalog interfaces.CatalogRepository,
	assignments interfaces.AssignmentRepository,
	ledger interfaces.ChoiceLedger,
	publisher interfaces.InstanceEventPublisher,
	rnd random.Source,
	cfg config.BotConfig,
	logger *zap.Logger,
) *BotDriver {
	if publisher == nil {
		publisher = NoopPublisher()
	}
	return &BotDriver{
		db:          db,
		catalog:     catalog,
		assignments: assignments,
		ledger:      ledger,
		publisher:   publisher,
		rnd:         rnd,
		sleep:       sleepCtx,
		cfg:         cfg,
		logger:      logger.Named("BotDriver"),
	}
}

// WithSleep подменяет ожидание между выборами ботов.
func (d *BotDriver) WithSleep(sleep SleepFunc) *BotDriver {
	d.sleep = sleep
	return d
}

// FillChoices записывает выборы всех ботов без выбора на узле. Повторный вызов безопасен.
// Возвращает число записанных выборов.
func (d *BotDriver) FillChoices(ctx context.Context, instanceID, nodeID uuid.UUID) (int, error) {
	log := d.logger.With(zap.Stringer("instanceID", instanceID), zap.Stringer("nodeID", nodeID))

	node, err := d.catalog.GetNodeByID(ctx, d.db, nodeID)
	if err != nil {
		return 0, err
	}
	if node.IsEnding {
		return 0, nil
	}
	assignments, err := d.assignments.ListByInstance(ctx, d.db, instanceID)
	if err != nil {
		return 0, err
	}
	existing, err := d.ledger.AllChoices(ctx, d.db, instanceID, nodeID)
	if err != nil {
		return 0, err
	}
	chosen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		chosen[s.ParticipantID] = struct{}{}
	}

	recorded := 0
	for _, a := range assignments {
		if !a.IsBot() {
			continue
		}
		if _, ok := chosen[a.ParticipantID]; ok {
			continue
		}
		visible := node.VisibleChoices(a.CharacterName)
		if len(visible) == 0 {
			metrics.ContentDefectsTotal.WithLabelValues("no_visible_choices").Inc()
			log.Warn("Content defect: no choices visible to bot character",
				zap.String("defect", "no_visible_choices"),
				zap.String("character", a.CharacterName),
				zap.String("nodeKey", node.Key),
			)
			continue
		}

		if err := d.sleep(ctx, random.Between(d.rnd, d.cfg.ChoiceJitterMin, d.cfg.ChoiceJitterMax)); err != nil {
			return recorded, err
		}

		pick := random.Pick(d.rnd, visible)
		err := d.ledger.Submit(ctx, d.db, &models.ChoiceSubmission{
			InstanceID:    instanceID,
			NodeID:        nodeID,
			ParticipantID: a.ParticipantID,
			ChoiceKey:     pick.Key,
		})
		if errors.Is(err, models.ErrAlreadySubmitted) {
			// параллельный запуск успел раньше
			continue
		}
		if err != nil {
			return recorded, err
		}
		recorded++
		metrics.ChoicesTotal.WithLabelValues("bot").Inc()
		log.Debug("Bot choice recorded", zap.String("character", a.CharacterName), zap.String("choiceKey", pick.Key))
	}

	if recorded > 0 {
		publishUpdate(ctx, d.publisher, d.logger, models.InstanceUpdate{
			Type:       models.InstanceEventChoiceAdded,
			InstanceID: instanceID,
			NodeID:     &nodeID,
			Submitted:  len(existing) + recorded,
			Expected:   len(assignments),
		})
	}
	return recorded, nil
}
