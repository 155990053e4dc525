package service

import (
	"context"
	"errors"
	"fmt"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"go.uber.org/zap"
)

// Tally итог голосования на узле.
type Tally struct {
	Votes  map[string]int
	Winner string
}

// QuorumResolver подсчитывает голоса и находит следующий узел.
type QuorumResolver struct {
	db      interfaces.DBTX
	catalog interfaces.CatalogRepository
	ledger  interfaces.ChoiceLedger
	logger  *zap.Logger
}

func NewQuorumResolver(db interfaces.DBTX, catalog interfaces.CatalogRepository, ledger interfaces.ChoiceLedger, logger *zap.Logger) *QuorumResolver {
	return &QuorumResolver{
		db:      db,
		catalog: catalog,
		ledger:  ledger,
		logger:  logger.Named("QuorumResolver"),
	}
}

// CountVotes побеждает ключ с наибольшим числом голосов, при равенстве - ключ,
// стоящий раньше в узле. Ключи, которых нет в узле, не учитываются.
func CountVotes(node *models.StoryNode, submissions []models.ChoiceSubmission) Tally {
	t := Tally{Votes: make(map[string]int, len(node.Choices))}
	for _, s := range submissions {
		if _, ok := node.ChoiceByKey(s.ChoiceKey); ok {
			t.Votes[s.ChoiceKey]++
		}
	}
	best := 0
	for _, c := range node.Choices {
		if n := t.Votes[c.Key]; n > best {
			best = n
			t.Winner = c.Key
		}
	}
	return t
}

// Resolve подсчитывает голоса узла и возвращает целевой узел.
// Висячая ссылка возвращает ErrDanglingTarget, отсутствие голосов - ErrNoVisibleChoices.
func (q *QuorumResolver) Resolve(ctx context.Context, inst *models.QuorumSnapshot, node *models.StoryNode) (*models.StoryNode, Tally, error) {
	submissions, err := q.ledger.AllChoices(ctx, q.db, inst.InstanceID, node.ID)
	if err != nil {
		return nil, Tally{}, err
	}
	tally := CountVotes(node, submissions)
	if tally.Winner == "" {
		return nil, tally, fmt.Errorf("%w: node %q has no valid votes", models.ErrNoVisibleChoices, node.Key)
	}

	choice, _ := node.ChoiceByKey(tally.Winner)
	target, err := q.catalog.GetNode(ctx, q.db, node.StoryID, choice.TargetNodeKey)
	if err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			return nil, tally, fmt.Errorf("%w: choice %q of node %q points to %q",
				models.ErrDanglingTarget, choice.Key, node.Key, choice.TargetNodeKey)
		}
		return nil, tally, err
	}
	q.logger.Debug("Quorum resolved",
		zap.Stringer("instanceID", inst.InstanceID),
		zap.String("nodeKey", node.Key),
		zap.String("winner", tally.Winner),
		zap.Any("votes", tally.Votes),
		zap.String("targetKey", target.Key),
	)
	return target, tally, nil
}
