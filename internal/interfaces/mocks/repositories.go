package mocks

import (
	"context"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// --- CatalogRepository ---

type CatalogRepository struct {
	mock.Mock
}

var _ interfaces.CatalogRepository = (*CatalogRepository)(nil)

func (m *CatalogRepository) GetStory(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, querier, storyID)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}

func (m *CatalogRepository) GetNode(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, nodeKey string) (*models.StoryNode, error) {
	args := m.Called(ctx, querier, storyID, nodeKey)
	node, _ := args.Get(0).(*models.StoryNode)
	return node, args.Error(1)
}

func (m *CatalogRepository) GetNodeByID(ctx context.Context, querier interfaces.DBTX, nodeID uuid.UUID) (*models.StoryNode, error) {
	args := m.Called(ctx, querier, nodeID)
	node, _ := args.Get(0).(*models.StoryNode)
	return node, args.Error(1)
}

func (m *CatalogRepository) ListStories(ctx context.Context, querier interfaces.DBTX) ([]models.StorySummary, error) {
	args := m.Called(ctx, querier)
	list, _ := args.Get(0).([]models.StorySummary)
	return list, args.Error(1)
}

// --- InstanceRepository ---

type InstanceRepository struct {
	mock.Mock
}

var _ interfaces.InstanceRepository = (*InstanceRepository)(nil)

func (m *InstanceRepository) Create(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) (*models.StoryInstance, error) {
	args := m.Called(ctx, querier, storyID)
	inst, _ := args.Get(0).(*models.StoryInstance)
	return inst, args.Error(1)
}

func (m *InstanceRepository) GetByID(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID) (*models.StoryInstance, error) {
	args := m.Called(ctx, querier, instanceID)
	inst, _ := args.Get(0).(*models.StoryInstance)
	return inst, args.Error(1)
}

func (m *InstanceRepository) LockByID(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID) (*models.StoryInstance, error) {
	args := m.Called(ctx, querier, instanceID)
	inst, _ := args.Get(0).(*models.StoryInstance)
	return inst, args.Error(1)
}

func (m *InstanceRepository) ListOpen(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID) ([]models.OpenInstanceSlot, error) {
	args := m.Called(ctx, querier, storyID)
	slots, _ := args.Get(0).([]models.OpenInstanceSlot)
	return slots, args.Error(1)
}

func (m *InstanceRepository) Activate(ctx context.Context, querier interfaces.DBTX, instanceID, startNodeID uuid.UUID) (bool, error) {
	args := m.Called(ctx, querier, instanceID, startNodeID)
	return args.Bool(0), args.Error(1)
}

func (m *InstanceRepository) AdvanceTo(ctx context.Context, querier interfaces.DBTX, instanceID, fromNodeID, toNodeID uuid.UUID) error {
	args := m.Called(ctx, querier, instanceID, fromNodeID, toNodeID)
	return args.Error(0)
}

func (m *InstanceRepository) Complete(ctx context.Context, querier interfaces.DBTX, instanceID, atNodeID uuid.UUID) error {
	args := m.Called(ctx, querier, instanceID, atNodeID)
	return args.Error(0)
}

func (m *InstanceRepository) QuorumSnapshot(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID) (*models.QuorumSnapshot, error) {
	args := m.Called(ctx, querier, instanceID, nodeID)
	snap, _ := args.Get(0).(*models.QuorumSnapshot)
	return snap, args.Error(1)
}

func (m *InstanceRepository) ListActive(ctx context.Context, querier interfaces.DBTX, after models.InstanceCursor, limit int) ([]models.StoryInstance, error) {
	args := m.Called(ctx, querier, after, limit)
	list, _ := args.Get(0).([]models.StoryInstance)
	return list, args.Error(1)
}

// --- AssignmentRepository ---

type AssignmentRepository struct {
	mock.Mock
}

var _ interfaces.AssignmentRepository = (*AssignmentRepository)(nil)

func (m *AssignmentRepository) Create(ctx context.Context, querier interfaces.DBTX, assignment *models.CharacterAssignment) error {
	args := m.Called(ctx, querier, assignment)
	return args.Error(0)
}

func (m *AssignmentRepository) Get(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID, participantID string) (*models.CharacterAssignment, error) {
	args := m.Called(ctx, querier, instanceID, participantID)
	a, _ := args.Get(0).(*models.CharacterAssignment)
	return a, args.Error(1)
}

func (m *AssignmentRepository) FindActive(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, participantID string) (*models.CharacterAssignment, error) {
	args := m.Called(ctx, querier, storyID, participantID)
	a, _ := args.Get(0).(*models.CharacterAssignment)
	return a, args.Error(1)
}

func (m *AssignmentRepository) ListByInstance(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID) ([]models.CharacterAssignment, error) {
	args := m.Called(ctx, querier, instanceID)
	list, _ := args.Get(0).([]models.CharacterAssignment)
	return list, args.Error(1)
}

func (m *AssignmentRepository) SetRevealed(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID, participantID string, revealed bool) error {
	args := m.Called(ctx, querier, instanceID, participantID, revealed)
	return args.Error(0)
}

func (m *AssignmentRepository) LockParticipant(ctx context.Context, querier interfaces.DBTX, storyID uuid.UUID, participantID string) error {
	args := m.Called(ctx, querier, storyID, participantID)
	return args.Error(0)
}

// --- ChoiceLedger ---

type ChoiceLedger struct {
	mock.Mock
}

var _ interfaces.ChoiceLedger = (*ChoiceLedger)(nil)

func (m *ChoiceLedger) Submit(ctx context.Context, querier interfaces.DBTX, submission *models.ChoiceSubmission) error {
	args := m.Called(ctx, querier, submission)
	return args.Error(0)
}

func (m *ChoiceLedger) CountForNode(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID) (int, error) {
	args := m.Called(ctx, querier, instanceID, nodeID)
	return args.Int(0), args.Error(1)
}

func (m *ChoiceLedger) AllChoices(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID) ([]models.ChoiceSubmission, error) {
	args := m.Called(ctx, querier, instanceID, nodeID)
	list, _ := args.Get(0).([]models.ChoiceSubmission)
	return list, args.Error(1)
}

func (m *ChoiceLedger) Get(ctx context.Context, querier interfaces.DBTX, instanceID, nodeID uuid.UUID, participantID string) (*models.ChoiceSubmission, error) {
	args := m.Called(ctx, querier, instanceID, nodeID, participantID)
	sub, _ := args.Get(0).(*models.ChoiceSubmission)
	return sub, args.Error(1)
}

// --- ChatRepository ---

type ChatRepository struct {
	mock.Mock
}

var _ interfaces.ChatRepository = (*ChatRepository)(nil)

func (m *ChatRepository) Append(ctx context.Context, querier interfaces.DBTX, msg *models.ChatMessage) error {
	args := m.Called(ctx, querier, msg)
	return args.Error(0)
}

func (m *ChatRepository) ListRecent(ctx context.Context, querier interfaces.DBTX, instanceID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	args := m.Called(ctx, querier, instanceID, limit)
	list, _ := args.Get(0).([]models.ChatMessage)
	return list, args.Error(1)
}

// --- ChatCooldown ---

type ChatCooldown struct {
	mock.Mock
}

var _ interfaces.ChatCooldown = (*ChatCooldown)(nil)

func (m *ChatCooldown) TryAcquire(ctx context.Context, instanceID uuid.UUID) (bool, error) {
	args := m.Called(ctx, instanceID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatCooldown) Touch(ctx context.Context, instanceID uuid.UUID) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}
