package interfaces

import (
	"context"

	"multiverse-server/internal/models"

	"github.com/google/uuid"
)

// CatalogRepository доступ только на чтение к графам историй.
//
//go:generate mockery --name CatalogRepository --output ./mocks --outpkg mocks --case=underscore
type CatalogRepository interface {
	// GetStory возвращает историю с персонажами в порядке позиции.
	// Returns models.ErrStoryNotFound.
	GetStory(ctx context.Context, querier DBTX, storyID uuid.UUID) (*models.Story, error)
	// GetNode ищет узел по ключу внутри истории. Returns models.ErrNodeNotFound.
	GetNode(ctx context.Context, querier DBTX, storyID uuid.UUID, nodeKey string) (*models.StoryNode, error)
	// GetNodeByID returns models.ErrNodeNotFound.
	GetNodeByID(ctx context.Context, querier DBTX, nodeID uuid.UUID) (*models.StoryNode, error)
	ListStories(ctx context.Context, querier DBTX) ([]models.StorySummary, error)
}

// CatalogWriter запись графа истории, используется только импортом.
type CatalogWriter interface {
	UpsertStory(ctx context.Context, querier DBTX, story *models.Story, nodes []models.StoryNode) error
}

// InstanceRepository жизненный цикл экземпляров. Переходы статуса выполняются как compare-and-set.
//
//go:generate mockery --name InstanceRepository --output ./mocks --outpkg mocks --case=underscore
type InstanceRepository interface {
	Create(ctx context.Context, querier DBTX, storyID uuid.UUID) (*models.StoryInstance, error)
	// GetByID returns models.ErrInstanceNotFound.
	GetByID(ctx context.Context, querier DBTX, instanceID uuid.UUID) (*models.StoryInstance, error)
	// LockByID берет строку экземпляра FOR UPDATE, только внутри транзакции.
	LockByID(ctx context.Context, querier DBTX, instanceID uuid.UUID) (*models.StoryInstance, error)
	// ListOpen экземпляры WAITING/ACTIVE в порядке создания с числом назначений.
	ListOpen(ctx context.Context, querier DBTX, storyID uuid.UUID) ([]models.OpenInstanceSlot, error)
	// Activate WAITING -> ACTIVE с установкой стартового узла. false, если экземпляр уже не WAITING.
	Activate(ctx context.Context, querier DBTX, instanceID, startNodeID uuid.UUID) (bool, error)
	// AdvanceTo переводит ACTIVE экземпляр с fromNodeID на toNodeID.
	// Returns models.ErrStaleNode, если экземпляр не ACTIVE или уже не на fromNodeID.
	AdvanceTo(ctx context.Context, querier DBTX, instanceID, fromNodeID, toNodeID uuid.UUID) error
	// Complete завершает экземпляр на узле atNodeID. Returns models.ErrStaleNode.
	Complete(ctx context.Context, querier DBTX, instanceID, atNodeID uuid.UUID) error
	// QuorumSnapshot одним запросом читает статус, узел, число назначений и выборов по nodeID.
	QuorumSnapshot(ctx context.Context, querier DBTX, instanceID, nodeID uuid.UUID) (*models.QuorumSnapshot, error)
	// ListActive ACTIVE экземпляры для восстановления расписания.
	ListActive(ctx context.Context, querier DBTX, after models.InstanceCursor, limit int) ([]models.StoryInstance, error)
}

// AssignmentRepository назначения персонажей.
//
//go:generate mockery --name AssignmentRepository --output ./mocks --outpkg mocks --case=underscore
type AssignmentRepository interface {
	// Create returns models.ErrCharacterTaken при нарушении уникальности.
	Create(ctx context.Context, querier DBTX, assignment *models.CharacterAssignment) error
	// Get returns models.ErrNotParticipant.
	Get(ctx context.Context, querier DBTX, instanceID uuid.UUID, participantID string) (*models.CharacterAssignment, error)
	// FindActive ищет назначение участника в ACTIVE экземпляре истории. Returns models.ErrNotFound.
	FindActive(ctx context.Context, querier DBTX, storyID uuid.UUID, participantID string) (*models.CharacterAssignment, error)
	// ListByInstance назначения в порядке позиции персонажа.
	ListByInstance(ctx context.Context, querier DBTX, instanceID uuid.UUID) ([]models.CharacterAssignment, error)
	SetRevealed(ctx context.Context, querier DBTX, instanceID uuid.UUID, participantID string, revealed bool) error
	// LockParticipant сериализует присоединения участника к истории до конца транзакции querier.
	LockParticipant(ctx context.Context, querier DBTX, storyID uuid.UUID, participantID string) error
}

// ChoiceLedger журнал выборов, только добавление.
//
//go:generate mockery --name ChoiceLedger --output ./mocks --outpkg mocks --case=underscore
type ChoiceLedger interface {
	// Submit returns models.ErrAlreadySubmitted, если выбор уже записан.
	Submit(ctx context.Context, querier DBTX, submission *models.ChoiceSubmission) error
	CountForNode(ctx context.Context, querier DBTX, instanceID, nodeID uuid.UUID) (int, error)
	// AllChoices выборы узла в порядке записи.
	AllChoices(ctx context.Context, querier DBTX, instanceID, nodeID uuid.UUID) ([]models.ChoiceSubmission, error)
	// Get returns models.ErrNotFound.
	Get(ctx context.Context, querier DBTX, instanceID, nodeID uuid.UUID, participantID string) (*models.ChoiceSubmission, error)
}

// ChatRepository журнал чата экземпляра.
//
//go:generate mockery --name ChatRepository --output ./mocks --outpkg mocks --case=underscore
type ChatRepository interface {
	Append(ctx context.Context, querier DBTX, msg *models.ChatMessage) error
	// ListRecent последние limit сообщений в хронологическом порядке.
	ListRecent(ctx context.Context, querier DBTX, instanceID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// ChatCooldown короткая блокировка периодических реплик ботов.
type ChatCooldown interface {
	// TryAcquire ставит кулдаун, если его нет. false - кулдаун уже действует.
	TryAcquire(ctx context.Context, instanceID uuid.UUID) (bool, error)
	// Touch продлевает кулдаун безусловно.
	Touch(ctx context.Context, instanceID uuid.UUID) error
}
