package handler

import (
	"context"

	"multiverse-server/internal/models"
	"multiverse-server/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
)

type mockStoryService struct {
	mock.Mock
}

var _ service.StoryService = (*mockStoryService)(nil)

func (m *mockStoryService) ListStories(ctx context.Context) ([]models.StorySummary, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]models.StorySummary)
	return out, args.Error(1)
}

func (m *mockStoryService) Join(ctx context.Context, participantID string, storyID uuid.UUID) (*models.AssignmentResult, error) {
	args := m.Called(ctx, participantID, storyID)
	out, _ := args.Get(0).(*models.AssignmentResult)
	return out, args.Error(1)
}

func (m *mockStoryService) GetInstanceState(ctx context.Context, instanceID uuid.UUID, participantID string) (*models.InstanceState, error) {
	args := m.Called(ctx, instanceID, participantID)
	out, _ := args.Get(0).(*models.InstanceState)
	return out, args.Error(1)
}

func (m *mockStoryService) GetNode(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID) (*models.NodeView, error) {
	args := m.Called(ctx, instanceID, participantID, nodeID)
	out, _ := args.Get(0).(*models.NodeView)
	return out, args.Error(1)
}

func (m *mockStoryService) SubmitChoice(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID, choiceKey string) (*models.SubmitResult, error) {
	args := m.Called(ctx, instanceID, participantID, nodeID, choiceKey)
	out, _ := args.Get(0).(*models.SubmitResult)
	return out, args.Error(1)
}

func (m *mockStoryService) Nudge(ctx context.Context, instanceID uuid.UUID, participantID string, nodeID uuid.UUID) (*models.SubmitResult, error) {
	args := m.Called(ctx, instanceID, participantID, nodeID)
	out, _ := args.Get(0).(*models.SubmitResult)
	return out, args.Error(1)
}

func (m *mockStoryService) ListChat(ctx context.Context, instanceID uuid.UUID, participantID string, limit int) ([]models.ChatMessage, error) {
	args := m.Called(ctx, instanceID, participantID, limit)
	out, _ := args.Get(0).([]models.ChatMessage)
	return out, args.Error(1)
}

func (m *mockStoryService) PostChat(ctx context.Context, instanceID uuid.UUID, participantID string, message string) (*models.ChatMessage, error) {
	args := m.Called(ctx, instanceID, participantID, message)
	out, _ := args.Get(0).(*models.ChatMessage)
	return out, args.Error(1)
}

func (m *mockStoryService) Authorize(ctx context.Context, instanceID uuid.UUID, participantID string) error {
	return m.Called(ctx, instanceID, participantID).Error(0)
}

type mockStreams struct {
	mock.Mock
}

func (m *mockStreams) Serve(conn *websocket.Conn, instanceID uuid.UUID, participantID string) {
	m.Called(conn, instanceID, participantID)
	_ = conn.Close()
}
