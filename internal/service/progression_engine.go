package service

import (
	"context"
	"errors"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StepResult итог одного шага машины состояний экземпляра.
type StepResult string

const (
	StepStale          StepResult = "stale"
	StepNotActive      StepResult = "not_active"
	StepAwaitingHumans StepResult = "awaiting_humans"
	StepAwaitingBots   StepResult = "awaiting_bots"
	StepAdvanced       StepResult = "advanced"
	StepCompleted      StepResult = "completed"
	StepContentDefect  StepResult = "content_defect"
)

// StepOutcome результат шага. NodeID - текущий узел экземпляра после шага.
type StepOutcome struct {
	Result    StepResult
	NodeID    uuid.UUID
	Submitted int
	Expected  int
	// NextIsEnding новый узел является концовкой
	NextIsEnding bool
}

// ProgressionEngine связывает журнал, резолвер, ботов и реестр в один идемпотентный шаг.
type ProgressionEngine struct {
	db          interfaces.DBTX
	catalog     interfaces.CatalogRepository
	instances   interfaces.InstanceRepository
	assignments interfaces.AssignmentRepository
	ledger      interfaces.ChoiceLedger
	registry    *InstanceRegistry
	resolver    *QuorumResolver
	bots        *BotDriver
	dispatcher  *Dispatcher
	cfg         config.BotConfig
	logger      *zap.Logger
}

func NewProgressionEngine(
	db interfaces.DBTX,
	catalog interfaces.CatalogRepository,
	instances interfaces.InstanceRepository,
	assignments interfaces.AssignmentRepository,
	ledger interfaces.ChoiceLedger,
	registry *InstanceRegistry,
	resolver *QuorumResolver,
	bots *BotDriver,
	dispatcher *Dispatcher,
	cfg config.BotConfig,
	logger *zap.Logger,
) *ProgressionEngine {
	return &ProgressionEngine{
		db:          db,
		catalog:     catalog,
		instances:   instances,
		assignments: assignments,
		ledger:      ledger,
		registry:    registry,
		resolver:    resolver,
		bots:        bots,
		dispatcher:  dispatcher,
		cfg:         cfg,
		logger:      logger.Named("ProgressionEngine"),
	}
}

// AdvanceIfReady один шаг для узла nodeID. Можно вызывать сколько угодно раз и параллельно:
// переход с узла выполняется не больше одного раза благодаря compare-and-set в реестре.
func (e *ProgressionEngine) AdvanceIfReady(ctx context.Context, instanceID, nodeID uuid.UUID) (StepOutcome, error) {
	out, err := e.step(ctx, instanceID, nodeID)
	if err == nil {
		metrics.ProgressionStepsTotal.WithLabelValues(string(out.Result)).Inc()
	}
	return out, err
}

func (e *ProgressionEngine) step(ctx context.Context, instanceID, nodeID uuid.UUID) (StepOutcome, error) {
	log := e.logger.With(zap.Stringer("instanceID", instanceID), zap.Stringer("nodeID", nodeID))

	snap, err := e.instances.QuorumSnapshot(ctx, e.db, instanceID, nodeID)
	if err != nil {
		return StepOutcome{}, err
	}
	out := StepOutcome{Submitted: snap.Submitted, Expected: snap.Expected}
	if snap.CurrentNodeID != nil {
		out.NodeID = *snap.CurrentNodeID
	}
	if snap.Status != models.InstanceStatusActive {
		out.Result = StepNotActive
		return out, nil
	}
	if snap.CurrentNodeID == nil || *snap.CurrentNodeID != nodeID {
		out.Result = StepStale
		return out, nil
	}

	node, err := e.catalog.GetNodeByID(ctx, e.db, nodeID)
	if err != nil {
		return out, err
	}

	if node.IsEnding {
		err := e.registry.Complete(ctx, instanceID, nodeID)
		switch {
		case err == nil:
			out.Result = StepCompleted
		case errors.Is(err, models.ErrStaleNode):
			out.Result = StepStale
		case errors.Is(err, models.ErrInstanceNotActive):
			out.Result = StepNotActive
		default:
			return out, err
		}
		return out, nil
	}

	// >= на случай лишних строк от гонок
	if snap.Submitted < snap.Expected {
		pending, err := e.pendingBots(ctx, instanceID, node)
		if err != nil {
			return out, err
		}
		switch {
		case pending.canChoose > 0:
			out.Result = StepAwaitingBots
		case len(pending.stalled) > 0:
			// бот без видимых выборов не проголосует никогда, повторные задачи бесполезны
			metrics.ContentDefectsTotal.WithLabelValues("no_visible_choices").Inc()
			log.Warn("Content defect, bots have no visible choices",
				zap.String("defect", "no_visible_choices"),
				zap.String("nodeKey", node.Key),
				zap.Strings("characters", pending.stalled),
			)
			out.Result = StepContentDefect
		default:
			out.Result = StepAwaitingHumans
		}
		return out, nil
	}

	target, tally, err := e.resolver.Resolve(ctx, snap, node)
	if err != nil {
		if defect := defectLabel(err); defect != "" {
			metrics.ContentDefectsTotal.WithLabelValues(defect).Inc()
			log.Warn("Content defect, instance stays on current node",
				zap.String("defect", defect),
				zap.String("nodeKey", node.Key),
				zap.Any("votes", tally.Votes),
				zap.Error(err),
			)
			out.Result = StepContentDefect
			return out, nil
		}
		return out, err
	}

	err = e.registry.AdvanceTo(ctx, instanceID, nodeID, target.ID)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrStaleNode):
		out.Result = StepStale
		return out, nil
	case errors.Is(err, models.ErrInstanceNotActive):
		out.Result = StepNotActive
		return out, nil
	default:
		return out, err
	}

	out.Result = StepAdvanced
	out.NodeID = target.ID
	out.NextIsEnding = target.IsEnding
	out.Submitted, out.Expected = 0, snap.Expected
	log.Info("Quorum reached, instance advanced",
		zap.String("fromKey", node.Key),
		zap.String("toKey", target.Key),
		zap.String("winner", tally.Winner),
	)

	if !target.IsEnding {
		e.dispatcher.After(ctx, models.Task{Kind: models.TaskBotChoices, InstanceID: instanceID, NodeID: target.ID}, e.cfg.ChoiceDelay)
	}
	return out, nil
}

// botsWithoutChoice боты, которые еще не выбрали на узле.
type botsWithoutChoice struct {
	canChoose int
	// stalled персонажи ботов, которым на узле не виден ни один выбор
	stalled []string
}

func (e *ProgressionEngine) pendingBots(ctx context.Context, instanceID uuid.UUID, node *models.StoryNode) (botsWithoutChoice, error) {
	var res botsWithoutChoice
	assignments, err := e.assignments.ListByInstance(ctx, e.db, instanceID)
	if err != nil {
		return res, err
	}
	choices, err := e.ledger.AllChoices(ctx, e.db, instanceID, node.ID)
	if err != nil {
		return res, err
	}
	chosen := make(map[string]struct{}, len(choices))
	for _, c := range choices {
		chosen[c.ParticipantID] = struct{}{}
	}
	for _, a := range assignments {
		if _, ok := chosen[a.ParticipantID]; ok || !a.IsBot() {
			continue
		}
		if len(node.VisibleChoices(a.CharacterName)) == 0 {
			res.stalled = append(res.stalled, a.CharacterName)
		} else {
			res.canChoose++
		}
	}
	return res, nil
}

// Drive шаг, при необходимости выборы ботов и еще один шаг. Если экземпляр перешел
// на концовку, она завершается сразу.
func (e *ProgressionEngine) Drive(ctx context.Context, instanceID, nodeID uuid.UUID) (StepOutcome, error) {
	out, err := e.AdvanceIfReady(ctx, instanceID, nodeID)
	if err != nil {
		return out, err
	}
	if out.Result == StepAwaitingBots {
		if _, err := e.bots.FillChoices(ctx, instanceID, nodeID); err != nil {
			return out, err
		}
		if out, err = e.AdvanceIfReady(ctx, instanceID, nodeID); err != nil {
			return out, err
		}
	}
	if out.Result == StepAdvanced && out.NextIsEnding {
		return e.AdvanceIfReady(ctx, instanceID, out.NodeID)
	}
	return out, nil
}

func defectLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrDanglingTarget):
		return "dangling_target"
	case errors.Is(err, models.ErrNoVisibleChoices):
		return "no_visible_choices"
	default:
		return ""
	}
}
