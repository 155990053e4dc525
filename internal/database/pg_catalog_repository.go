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
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	getStoryQuery = `
SELECT id, title, description, max_players, created_at
FROM stories
WHERE id = $1`

	listStoryCharactersQuery = `
SELECT id, story_id, name, description, position
FROM story_characters
WHERE story_id = $1
ORDER BY position, name`

	listStoriesQuery = `
SELECT id, title, description, max_players
FROM stories
ORDER BY created_at DESC, title`

	getNodeByKeyQuery = `
SELECT id, story_id, node_key, title, body, is_ending
FROM story_nodes
WHERE story_id = $1 AND node_key = $2`

	getNodeByIDQuery = `
SELECT id, story_id, node_key, title, body, is_ending
FROM story_nodes
WHERE id = $1`

	listNodeChoicesQuery = `
SELECT node_id, position, choice_key, text, target_node_key, restricted_to
FROM story_choices
WHERE node_id = $1
ORDER BY position`

	upsertStoryQuery = `
INSERT INTO stories (id, title, description, max_players)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    max_players = EXCLUDED.max_players,
    updated_at = NOW()`

	upsertCharacterQuery = `
INSERT INTO story_characters (id, story_id, name, description, position)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    description = EXCLUDED.description,
    position = EXCLUDED.position`

	upsertNodeQuery = `
INSERT INTO story_nodes (id, story_id, node_key, title, body, is_ending)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    body = EXCLUDED.body,
    is_ending = EXCLUDED.is_ending`

	deleteNodeChoicesQuery = `DELETE FROM story_choices WHERE node_id = $1`

	insertChoiceQuery = `
INSERT INTO story_choices (node_id, position, choice_key, text, target_node_key, restricted_to)
VALUES ($1, $2, $3, $4, $5, $6)`
)

type choiceRow struct {
	NodeID        uuid.UUID      `db:"node_id"`
	Position      int            `db:"position"`
	ChoiceKey     string         `db:"choice_key"`
	Text          string         `db:"text"`
	TargetNodeKey string         `db:"target_node_key"`
	RestrictedTo  pq.StringArray `db:"restricted_to"`
}

type pgCatalogRepository struct {
	logger *zap.Logger
}

var (
	_ interfaces.CatalogRepository = (*pgCatalogRepository)(nil)
	_ interfaces.CatalogWriter     = (*pgCatalogRepository)(nil)
)

// NewPgCatalogRepository репозиторий каталога историй.
func NewPgCatalogRepository(logger *zap.Logger) *pgCatalogRepository {
	return &pgCatalogRepository{logger: logger.Named("PgCatalogRepo")}
}

func (r *pgCatalogRepository) GetStory(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) (*models.Story, error) {
	var story models.Story
	if err := pgxscan.Get(ctx, querier, &story, getStoryQuery, storyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", storyID, err)
	}
	if err := pgxscan.Select(ctx, querier, &story.Characters, listStoryCharactersQuery, storyID); err != nil {
		r.logger.Error("Failed to list story characters", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list characters of story %s: %w", storyID, err)
	}
	return &story, nil
}

func (r *pgCatalogRepository) ListStories(ctx context.Context, querier interfaces.DBTX) ([]models.StorySummary, error) {
	stories := make([]models.StorySummary, 0)
	if err := pgxscan.Select(ctx, querier, &stories, listStoriesQuery); err != nil {
		r.logger.Error("Failed to list stories", zap.Error(err))
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return stories, nil
}

func (r *pgCatalogRepository) GetNode(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, nodeKey string) (*models.StoryNode, error) {
	return r.getNode(ctx, querier, getNodeByKeyQuery, storyID, nodeKey)
}

func (r *pgCatalogRepository) GetNodeByID(ctx context.Context, querier interfaces.DBTX, nodeID uuid.UUID) (*models.StoryNode, error) {
	return r.getNode(ctx, querier, getNodeByIDQuery, nodeID)
}

func (r *pgCatalogRepository) getNode(ctx context.Context, querier interfaces.DBTX, query string, args ...interface{}) (*models.StoryNode, error) {
	var node models.StoryNode
	if err := pgxscan.Get(ctx, querier, &node, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNodeNotFound
		}
		r.logger.Error("Failed to get story node", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to get story node: %w", err)
	}

	var rows []choiceRow
	if err := pgxscan.Select(ctx, querier, &rows, listNodeChoicesQuery, node.ID); err != nil {
		r.logger.Error("Failed to list node choices", zap.Stringer("nodeID", node.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to list choices of node %s: %w", node.ID, err)
	}
	node.Choices = make([]models.Choice, 0, len(rows))
	for _, row := range rows {
		node.Choices = append(node.Choices, models.Choice{
			Key:           row.ChoiceKey,
			Text:          row.Text,
			TargetNodeKey: row.TargetNodeKey,
			RestrictedTo:  []string(row.RestrictedTo),
		})
	}
	return &node, nil
}

// UpsertStory записывает историю, персонажей, узлы и варианты. Узлы и персонажи не удаляются,
// на них могут ссылаться существующие экземпляры.
func (r *pgCatalogRepository) UpsertStory(ctx context.Context, querier interfaces.DBTX, story *models.Story, nodes []models.StoryNode) error {
	log := r.logger.With(zap.Stringer("storyID", story.ID))

	if _, err := querier.Exec(ctx, upsertStoryQuery, story.ID, story.Title, story.Description, story.MaxPlayers); err != nil {
		log.Error("Failed to upsert story", zap.Error(err))
		return fmt.Errorf("failed to upsert story: %w", err)
	}
	for i, ch := range story.Characters {
		if _, err := querier.Exec(ctx, upsertCharacterQuery, ch.ID, story.ID, ch.Name, ch.Description, i); err != nil {
			log.Error("Failed to upsert character", zap.String("character", ch.Name), zap.Error(err))
			return fmt.Errorf("failed to upsert character %q: %w", ch.Name, err)
		}
	}
	for _, node := range nodes {
		if _, err := querier.Exec(ctx, upsertNodeQuery, node.ID, story.ID, node.Key, node.Title, node.Body, node.IsEnding); err != nil {
			log.Error("Failed to upsert node", zap.String("nodeKey", node.Key), zap.Error(err))
			return fmt.Errorf("failed to upsert node %q: %w", node.Key, err)
		}
		if _, err := querier.Exec(ctx, deleteNodeChoicesQuery, node.ID); err != nil {
			return fmt.Errorf("failed to reset choices of node %q: %w", node.Key, err)
		}
		for pos, choice := range node.Choices {
			restricted := choice.RestrictedTo
			if restricted == nil {
				restricted = []string{}
			}
			if _, err := querier.Exec(ctx, insertChoiceQuery, node.ID, pos, choice.Key, choice.Text, choice.TargetNodeKey, pq.Array(restricted)); err != nil {
				log.Error("Failed to insert choice", zap.String("nodeKey", node.Key), zap.String("choiceKey", choice.Key), zap.Error(err))
				return fmt.Errorf("failed to insert choice %q of node %q: %w", choice.Key, node.Key, err)
			}
		}
	}
	log.Info("Story upserted", zap.Int("characters", len(story.Characters)), zap.Int("nodes", len(nodes)))
	return nil
}
