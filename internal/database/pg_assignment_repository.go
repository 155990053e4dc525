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
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const assignmentSelect = `
SELECT a.id, a.instance_id, a.participant_id, a.character_id,
       c.name AS character_name, c.description AS character_description,
       a.is_revealed, a.created_at
FROM character_assignments a
JOIN story_characters c ON c.id = a.character_id`

const (
	insertAssignmentQuery = `
INSERT INTO character_assignments (id, instance_id, participant_id, character_id, is_revealed)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`

	getAssignmentQuery = assignmentSelect + `
WHERE a.instance_id = $1 AND a.participant_id = $2`

	findActiveAssignmentQuery = assignmentSelect + `
JOIN story_instances i ON i.id = a.instance_id
WHERE i.story_id = $1 AND a.participant_id = $2 AND i.status = 'ACTIVE'
ORDER BY i.created_at DESC
LIMIT 1`

	listInstanceAssignmentsQuery = assignmentSelect + `
WHERE a.instance_id = $1
ORDER BY c.position, c.name`

	setRevealedQuery = `
UPDATE character_assignments SET is_revealed = $3
WHERE instance_id = $1 AND participant_id = $2`

	// Блокировка снимается коммитом или откатом транзакции.
	lockParticipantQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2, 0))`
)

type pgAssignmentRepository struct {
	logger *zap.Logger
}

var _ interfaces.AssignmentRepository = (*pgAssignmentRepository)(nil)

// NewPgAssignmentRepository репозиторий назначений персонажей.
func NewPgAssignmentRepository(logger *zap.Logger) *pgAssignmentRepository {
	return &pgAssignmentRepository{logger: logger.Named("PgAssignmentRepo")}
}

func (r *pgAssignmentRepository) Create(ctx context.Context, querier interfaces.DBTX, a *models.CharacterAssignment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	logFields := []zap.Field{
		zap.Stringer("instanceID", a.InstanceID),
		zap.String("participantID", a.ParticipantID),
		zap.Stringer("characterID", a.CharacterID),
	}
	err := querier.QueryRow(ctx, insertAssignmentQuery, a.ID, a.InstanceID, a.ParticipantID, a.CharacterID, a.IsRevealed).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			r.logger.Warn("Character or participant already assigned", append(logFields, zap.String("constraint", pgErr.ConstraintName))...)
			return models.ErrCharacterTaken
		}
		r.logger.Error("Failed to create assignment", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (r *pgAssignmentRepository) Get(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID, participantID string) (*models.CharacterAssignment, error) {
	var a models.CharacterAssignment
	if err := pgxscan.Get(ctx, querier, &a, getAssignmentQuery, instanceID, participantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotParticipant
		}
		r.logger.Error("Failed to get assignment", zap.Stringer("instanceID", instanceID), zap.String("participantID", participantID), zap.Error(err))
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

func (r *pgAssignmentRepository) FindActive(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, participantID string) (*models.CharacterAssignment, error) {
	var a models.CharacterAssignment
	if err := pgxscan.Get(ctx, querier, &a, findActiveAssignmentQuery, storyID, participantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to find active assignment", zap.Stringer("storyID", storyID), zap.String("participantID", participantID), zap.Error(err))
		return nil, fmt.Errorf("failed to find active assignment: %w", err)
	}
	return &a, nil
}

func (r *pgAssignmentRepository) ListByInstance(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID) ([]models.CharacterAssignment, error) {
	list := make([]models.CharacterAssignment, 0)
	if err := pgxscan.Select(ctx, querier, &list, listInstanceAssignmentsQuery, instanceID); err != nil {
		r.logger.Error("Failed to list assignments", zap.Stringer("instanceID", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return list, nil
}

func (r *pgAssignmentRepository) SetRevealed(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID, participantID string, revealed bool) error {
	tag, err := querier.Exec(ctx, setRevealedQuery, instanceID, participantID, revealed)
	if err != nil {
		return fmt.Errorf("failed to update reveal flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotParticipant
	}
	return nil
}

func (r *pgAssignmentRepository) LockParticipant(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, participantID string) error {
	if _, err := querier.Exec(ctx, lockParticipantQuery, storyID.String(), participantID); err != nil {
		r.logger.Error("Failed to lock participant join", zap.Stringer("storyID", storyID), zap.String("participantID", participantID), zap.Error(err))
		return fmt.Errorf("failed to lock participant join: %w", err)
	}
	return nil
}
