package mocks

import (
	"context"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// TxManager выполняет fn без реальной транзакции, передавая nil querier.
type TxManager struct {
	mock.Mock
}

var _ interfaces.TxManager = (*TxManager)(nil)

func (m *TxManager) WithTx(ctx context.Context, fn func(tx interfaces.DBTX) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}

type TaskScheduler struct {
	mock.Mock
}

var _ interfaces.TaskScheduler = (*TaskScheduler)(nil)

func (m *TaskScheduler) Schedule(ctx context.Context, task models.Task, dueAt time.Time) error {
	args := m.Called(ctx, task, dueAt)
	return args.Error(0)
}

func (m *TaskScheduler) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]models.Task, error) {
	args := m.Called(ctx, now, limit)
	tasks, _ := args.Get(0).([]models.Task)
	return tasks, args.Error(1)
}

type InstanceEventPublisher struct {
	mock.Mock
}

var _ interfaces.InstanceEventPublisher = (*InstanceEventPublisher)(nil)

func (m *InstanceEventPublisher) PublishInstanceUpdate(ctx context.Context, update models.InstanceUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

type TextGenerator struct {
	mock.Mock
}

var _ interfaces.TextGenerator = (*TextGenerator)(nil)

func (m *TextGenerator) Generate(ctx context.Context, req models.BotLineRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
