package service

import (
	"context"
	"errors"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceRegistry единственный владелец переходов WAITING -> ACTIVE -> COMPLETED после активации.
type InstanceRegistry struct {
	db        interfaces.DBTX
	instances interfaces.InstanceRepository
	publisher interfaces.InstanceEventPublisher
	logger    *zap.Logger
}

func NewInstanceRegistry(db interfaces.DBTX, instances interfaces.InstanceRepository, publisher interfaces.InstanceEventPublisher, logger *zap.Logger) *InstanceRegistry {
	if publisher == nil {
		publisher = NoopPublisher()
	}
	return &InstanceRegistry{
		db:        db,
		instances: instances,
		publisher: publisher,
		logger:    logger.Named("InstanceRegistry"),
	}
}

// State текущее состояние экземпляра.
func (r *InstanceRegistry) State(ctx context.Context, instanceID uuid.UUID) (*models.StoryInstance, error) {
	return r.instances.GetByID(ctx, r.db, instanceID)
}

// AdvanceTo переводит экземпляр с узла from на узел to. Проигравший гонку получает
// ErrStaleNode, неактивный экземпляр - ErrInstanceNotActive.
func (r *InstanceRegistry) AdvanceTo(ctx context.Context, instanceID, from, to uuid.UUID) error {
	err := r.instances.AdvanceTo(ctx, r.db, instanceID, from, to)
	if err != nil {
		return r.classify(ctx, instanceID, err)
	}
	r.logger.Info("Instance advanced",
		zap.Stringer("instanceID", instanceID),
		zap.Stringer("fromNodeID", from),
		zap.Stringer("toNodeID", to),
	)
	publishUpdate(ctx, r.publisher, r.logger, models.InstanceUpdate{
		Type:       models.InstanceEventAdvanced,
		InstanceID: instanceID,
		NodeID:     &to,
		Status:     models.InstanceStatusActive,
	})
	return nil
}

// Complete завершает экземпляр на узле at, узел остается текущим для истории.
func (r *InstanceRegistry) Complete(ctx context.Context, instanceID, at uuid.UUID) error {
	if err := r.instances.Complete(ctx, r.db, instanceID, at); err != nil {
		return r.classify(ctx, instanceID, err)
	}
	r.logger.Info("Instance completed", zap.Stringer("instanceID", instanceID), zap.Stringer("nodeID", at))
	publishUpdate(ctx, r.publisher, r.logger, models.InstanceUpdate{
		Type:       models.InstanceEventCompleted,
		InstanceID: instanceID,
		NodeID:     &at,
		Status:     models.InstanceStatusCompleted,
	})
	return nil
}

// Activated публикует событие активации, сама активация выполняется при присоединении.
func (r *InstanceRegistry) Activated(ctx context.Context, instanceID, startNodeID uuid.UUID) {
	publishUpdate(ctx, r.publisher, r.logger, models.InstanceUpdate{
		Type:       models.InstanceEventActivated,
		InstanceID: instanceID,
		NodeID:     &startNodeID,
		Status:     models.InstanceStatusActive,
	})
}

func (r *InstanceRegistry) classify(ctx context.Context, instanceID uuid.UUID, err error) error {
	if !errors.Is(err, models.ErrStaleNode) {
		return err
	}
	inst, getErr := r.instances.GetByID(ctx, r.db, instanceID)
	if getErr != nil {
		return getErr
	}
	if inst.Status != models.InstanceStatusActive {
		return models.ErrInstanceNotActive
	}
	return models.ErrStaleNode
}
