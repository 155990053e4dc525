package database

import (
	"context"
	"errors"
	"fmt"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const instanceColumns = `id, story_id, status, current_node_id, created_at, completed_at`

const (
	createInstanceQuery = `
INSERT INTO story_instances (id, story_id, status)
VALUES ($1, $2, 'WAITING')
RETURNING ` + instanceColumns

	getInstanceQuery = `SELECT ` + instanceColumns + ` FROM story_instances WHERE id = $1`

	lockInstanceQuery = `SELECT ` + instanceColumns + ` FROM story_instances WHERE id = $1 FOR UPDATE`

	listOpenInstancesQuery = `
SELECT i.id, i.status,
       (SELECT COUNT(*) FROM character_assignments a WHERE a.instance_id = i.id) AS assigned_count
FROM story_instances i
WHERE i.story_id = $1 AND i.status IN ('WAITING', 'ACTIVE')
ORDER BY i.created_at, i.id`

	activateInstanceQuery = `
UPDATE story_instances
SET status = 'ACTIVE', current_node_id = COALESCE(current_node_id, $2)
WHERE id = $1 AND status = 'WAITING'`

	advanceInstanceQuery = `
UPDATE story_instances
SET current_node_id = $3
WHERE id = $1 AND status = 'ACTIVE' AND current_node_id = $2`

	completeInstanceQuery = `
UPDATE story_instances
SET status = 'COMPLETED', completed_at = NOW()
WHERE id = $1 AND status = 'ACTIVE' AND current_node_id = $2`

	// Один оператор: подзапросы видят один снимок данных.
	quorumSnapshotQuery = `
SELECT i.id, i.story_id, i.status, i.current_node_id,
       (SELECT COUNT(*) FROM character_assignments a WHERE a.instance_id = i.id) AS expected,
       (SELECT COUNT(*) FROM choice_submissions s WHERE s.instance_id = i.id AND s.node_id = $2) AS submitted
FROM story_instances i
WHERE i.id = $1`

	// Keyset-пагинация: страница начинается строго после курсора.
	listActiveInstancesQuery = `
SELECT ` + instanceColumns + `
FROM story_instances
WHERE status = 'ACTIVE' AND (created_at, id) > ($1, $2)
ORDER BY created_at, id
LIMIT $3`
)

type pgInstanceRepository struct {
	logger *zap.Logger
}

var _ interfaces.InstanceRepository = (*pgInstanceRepository)(nil)

// NewPgInstanceRepository реестр экземпляров историй.
func NewPgInstanceRepository(logger *zap.Logger) *pgInstanceRepository {
	return &pgInstanceRepository{logger: logger.Named("PgInstanceRepo")}
}

func (r *pgInstanceRepository) Create(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) (*models.StoryInstance, error) {
	var inst models.StoryInstance
	if err := pgxscan.Get(ctx, querier, &inst, createInstanceQuery, uuid.New(), storyID); err != nil {
		r.logger.Error("Failed to create instance", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	r.logger.Info("Story instance created", zap.Stringer("instanceID", inst.ID), zap.Stringer("storyID", storyID))
	return &inst, nil
}

func (r *pgInstanceRepository) GetByID(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID) (*models.StoryInstance, error) {
	return r.get(ctx, querier, getInstanceQuery, instanceID)
}

func (r *pgInstanceRepository) LockByID(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID) (*models.StoryInstance, error) {
	return r.get(ctx, querier, lockInstanceQuery, instanceID)
}

func (r *pgInstanceRepository) get(ctx context.Context, querier interfaces.DBTX, query string, instanceID uuid.UUID) (*models.StoryInstance, error) {
	var inst models.StoryInstance
	if err := pgxscan.Get(ctx, querier, &inst, query, instanceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrInstanceNotFound
		}
		r.logger.Error("Failed to get instance", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}
	return &inst, nil
}

func (r *pgInstanceRepository) ListOpen(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]models.OpenInstanceSlot, error) {
	var slots []models.OpenInstanceSlot
	if err := pgxscan.Select(ctx, querier, &slots, listOpenInstancesQuery, storyID); err != nil {
		r.logger.Error("Failed to list open instances", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list open instances: %w", err)
	}
	return slots, nil
}

func (r *pgInstanceRepository) Activate(ctx context.Context, querier interfaces.DBTX, instanceID, startNodeID uuid.UUID) (bool, error) {
	tag, err := querier.Exec(ctx, activateInstanceQuery, instanceID, startNodeID)
	if err != nil {
		r.logger.Error("Failed to activate instance", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return false, fmt.Errorf("failed to activate instance %s: %w", instanceID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgInstanceRepository) AdvanceTo(ctx context.Context, querier interfaces.DBTX, instanceID, fromNodeID, toNodeID uuid.UUID) error {
	logFields := []zap.Field{
		zap.Stringer("instanceID", instanceID),
		zap.Stringer("fromNodeID", fromNodeID),
		zap.Stringer("toNodeID", toNodeID),
	}
	tag, err := querier.Exec(ctx, advanceInstanceQuery, instanceID, fromNodeID, toNodeID)
	if err != nil {
		r.logger.Error("Failed to advance instance", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to advance instance %s: %w", instanceID, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("Advance lost the race or instance is not active", logFields...)
		return models.ErrStaleNode
	}
	return nil
}

func (r *pgInstanceRepository) Complete(ctx context.Context, querier interfaces.DBTX, instanceID, atNodeID uuid.UUID) error {
	tag, err := querier.Exec(ctx, completeInstanceQuery, instanceID, atNodeID)
	if err != nil {
		r.logger.Error("Failed to complete instance", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return fmt.Errorf("failed to complete instance %s: %w", instanceID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStaleNode
	}
	return nil
}

func (r *pgInstanceRepository) QuorumSnapshot(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID) (*models.QuorumSnapshot, error) {
	var snap models.QuorumSnapshot
	if err := pgxscan.Get(ctx, querier, &snap, quorumSnapshotQuery, instanceID, nodeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrInstanceNotFound
		}
		r.logger.Error("Failed to read quorum snapshot", zap.Stringer("instanceID", instanceID), zap.Stringer("nodeID", nodeID), zap.Error(err))
		return nil, fmt.Errorf("failed to read quorum snapshot: %w", err)
	}
	return &snap, nil
}

func (r *pgInstanceRepository) ListActive(ctx context.Context, querier interfaces.DBTX, after models.InstanceCursor, limit int) ([]models.StoryInstance, error) {
	var list []models.StoryInstance
	if err := pgxscan.Select(ctx, querier, &list, listActiveInstancesQuery, after.CreatedAt, after.ID, limit); err != nil {
		r.logger.Error("Failed to list active instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list active instances: %w", err)
	}
	return list, nil
}
