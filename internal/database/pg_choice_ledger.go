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

const (
	// Уникальность по первичному ключу, проверка-затем-вставка не используется.
	submitChoiceQuery = `
INSERT INTO choice_submissions (instance_id, node_id, participant_id, choice_key)
VALUES ($1, $2, $3, $4)
ON CONFLICT (instance_id, node_id, participant_id) DO NOTHING
RETURNING created_at`

	countChoicesQuery = `
SELECT COUNT(*) FROM choice_submissions WHERE instance_id = $1 AND node_id = $2`

	listChoicesQuery = `
SELECT instance_id, node_id, participant_id, choice_key, created_at
FROM choice_submissions
WHERE instance_id = $1 AND node_id = $2
ORDER BY seq`

	getChoiceQuery = `
SELECT instance_id, node_id, participant_id, choice_key, created_at
FROM choice_submissions
WHERE instance_id = $1 AND node_id = $2 AND participant_id = $3`
)

type pgChoiceLedger struct {
	logger *zap.Logger
}

var _ interfaces.ChoiceLedger = (*pgChoiceLedger)(nil)

// NewPgChoiceLedger журнал выборов поверх таблицы choice_submissions.
func NewPgChoiceLedger(logger *zap.Logger) *pgChoiceLedger {
	return &pgChoiceLedger{logger: logger.Named("PgChoiceLedger")}
}

func (l *pgChoiceLedger) Submit(ctx context.Context, querier interfaces.DBTX, s *models.ChoiceSubmission) error {
	err := querier.QueryRow(ctx, submitChoiceQuery, s.InstanceID, s.NodeID, s.ParticipantID, s.ChoiceKey).Scan(&s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrAlreadySubmitted
		}
		l.logger.Error("Failed to submit choice",
			zap.Stringer("instanceID", s.InstanceID),
			zap.Stringer("nodeID", s.NodeID),
			zap.String("participantID", s.ParticipantID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to submit choice: %w", err)
	}
	return nil
}

func (l *pgChoiceLedger) CountForNode(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID) (int, error) {
	var count int
	if err := querier.QueryRow(ctx, countChoicesQuery, instanceID, nodeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count choices: %w", err)
	}
	return count, nil
}

func (l *pgChoiceLedger) AllChoices(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID) ([]models.ChoiceSubmission, error) {
	list := make([]models.ChoiceSubmission, 0)
	if err := pgxscan.Select(ctx, querier, &list, listChoicesQuery, instanceID, nodeID); err != nil {
		l.logger.Error("Failed to list choices", zap.Stringer("instanceID", instanceID), zap.Stringer("nodeID", nodeID), zap.Error(err))
		return nil, fmt.Errorf("failed to list choices: %w", err)
	}
	return list, nil
}

func (l *pgChoiceLedger) Get(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID, participantID string) (*models.ChoiceSubmission, error) {
	var s models.ChoiceSubmission
	if err := pgxscan.Get(ctx, querier, &s, getChoiceQuery, instanceID, nodeID, participantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get choice: %w", err)
	}
	return &s, nil
}
