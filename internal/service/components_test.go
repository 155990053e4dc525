package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/interfaces/mocks"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCountVotes(t *testing.T) {
	node := &models.StoryNode{Choices: []models.Choice{
		{Key: "a", TargetNodeKey: "x"},
		{Key: "b", TargetNodeKey: "y"},
		{Key: "c", TargetNodeKey: "z"},
	}}
	subs := func(keys ...string) []models.ChoiceSubmission {
		out := make([]models.ChoiceSubmission, len(keys))
		for i, k := range keys {
			out[i] = models.ChoiceSubmission{ParticipantID: string(rune('p' + i)), ChoiceKey: k}
		}
		return out
	}

	tests := []struct {
		name   string
		keys   []string
		winner string
	}{
		{"Strict majority", []string{"b", "a", "b"}, "b"},
		{"Tie goes to the earlier choice", []string{"c", "b"}, "b"},
		{"Three-way tie", []string{"c", "b", "a"}, "a"},
		{"Unknown keys ignored", []string{"zzz", "c"}, "c"},
		{"No valid votes", []string{"zzz"}, ""},
		{"Empty ledger", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := CountVotes(node, subs(tt.keys...))
			assert.Equal(t, tt.winner, tally.Winner)
		})
	}
}

func TestAssignmentManager_StorageFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	story := &models.Story{ID: storyID, MaxPlayers: 2, Characters: []models.Character{
		{ID: uuid.New(), Name: "Alice"}, {ID: uuid.New(), Name: "Bob"},
	}}

	catalog := new(mocks.CatalogRepository)
	instances := new(mocks.InstanceRepository)
	assignments := new(mocks.AssignmentRepository)
	tx := new(mocks.TxManager)

	dbErr := errors.New("connection reset")
	catalog.On("GetStory", ctx, mock.Anything, storyID).Return(story, nil)
	assignments.On("LockParticipant", ctx, mock.Anything, storyID, "user-1").Return(nil)
	assignments.On("FindActive", ctx, mock.Anything, storyID, "user-1").Return(nil, models.ErrNotFound)
	tx.On("WithTx", ctx).Return(nil)
	instances.On("ListOpen", ctx, mock.Anything, storyID).Return(nil, dbErr)

	m := NewAssignmentManager(nil, tx, catalog, instances, assignments, random.New(1), zap.NewNop())
	_, err := m.Join(ctx, "user-1", storyID)
	assert.ErrorIs(t, err, dbErr)
	instances.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAssignmentManager_DuplicateCharacterRace(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	instanceID := uuid.New()
	story := &models.Story{ID: storyID, MaxPlayers: 2, Characters: []models.Character{
		{ID: uuid.New(), Name: "Alice"}, {ID: uuid.New(), Name: "Bob"},
	}}

	catalog := new(mocks.CatalogRepository)
	instances := new(mocks.InstanceRepository)
	assignments := new(mocks.AssignmentRepository)
	tx := new(mocks.TxManager)

	catalog.On("GetStory", ctx, mock.Anything, storyID).Return(story, nil)
	assignments.On("LockParticipant", ctx, mock.Anything, storyID, "user-1").Return(nil)
	assignments.On("FindActive", ctx, mock.Anything, storyID, "user-1").Return(nil, models.ErrNotFound)
	tx.On("WithTx", ctx).Return(nil)
	instances.On("ListOpen", ctx, mock.Anything, storyID).Return([]models.OpenInstanceSlot(nil), nil)
	instances.On("Create", ctx, mock.Anything, storyID).
		Return(&models.StoryInstance{ID: instanceID, StoryID: storyID, Status: models.InstanceStatusWaiting}, nil)
	assignments.On("Create", ctx, mock.Anything, mock.AnythingOfType("*models.CharacterAssignment")).
		Return(models.ErrCharacterTaken).Once()

	m := NewAssignmentManager(nil, tx, catalog, instances, assignments, random.New(1), zap.NewNop())
	_, err := m.Join(ctx, "user-1", storyID)
	assert.ErrorIs(t, err, models.ErrCharacterTaken)
}

func TestAssignmentManager_LockFailureAbortsJoin(t *testing.T) {
	ctx := context.Background()
	storyID := uuid.New()
	story := &models.Story{ID: storyID, MaxPlayers: 1, Characters: []models.Character{{ID: uuid.New(), Name: "Alice"}}}

	catalog := new(mocks.CatalogRepository)
	instances := new(mocks.InstanceRepository)
	assignments := new(mocks.AssignmentRepository)
	tx := new(mocks.TxManager)

	lockErr := errors.New("lock timeout")
	catalog.On("GetStory", ctx, mock.Anything, storyID).Return(story, nil)
	tx.On("WithTx", ctx).Return(nil)
	assignments.On("LockParticipant", ctx, mock.Anything, storyID, "user-1").Return(lockErr)

	m := NewAssignmentManager(nil, tx, catalog, instances, assignments, random.New(1), zap.NewNop())
	_, err := m.Join(ctx, "user-1", storyID)
	assert.ErrorIs(t, err, lockErr)
	assignments.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	instances.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

// Два join одного участника, прошедшие в разных запросах до коммита друг друга,
// сериализуются блокировкой: второй видит активный экземпляр первого.
func TestAssignmentManager_SerializedDoubleJoinStaysInOneInstance(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	f := newForest(3)
	store.addStory(f.story, f.nodes()...)
	m := NewAssignmentManager(nil, store, store, store, memAssignments{store}, random.New(3), zap.NewNop())

	join := func() *JoinOutcome {
		var out *JoinOutcome
		require.NoError(t, store.WithTx(ctx, func(tx interfaces.DBTX) error {
			var err error
			out, err = m.joinTx(ctx, tx, f.story, "user-1")
			return err
		}))
		return out
	}

	first := join()
	require.True(t, first.Activated)
	second := join()

	assert.True(t, second.Rejoined)
	assert.False(t, second.Activated)
	assert.Equal(t, first.Result.InstanceID, second.Result.InstanceID)
	assert.Equal(t, first.Result.CharacterID, second.Result.CharacterID)

	slots, err := store.ListOpen(ctx, nil, f.story.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 1, "no second instance was opened")
}

func TestInstanceRegistry_RejectsNonActive(t *testing.T) {
	ctx := context.Background()
	id, from, to := uuid.New(), uuid.New(), uuid.New()

	instances := new(mocks.InstanceRepository)
	publisher := new(mocks.InstanceEventPublisher)
	instances.On("AdvanceTo", ctx, mock.Anything, id, from, to).Return(models.ErrStaleNode)
	instances.On("GetByID", ctx, mock.Anything, id).
		Return(&models.StoryInstance{ID: id, Status: models.InstanceStatusCompleted, CurrentNodeID: &from}, nil)

	r := NewInstanceRegistry(nil, instances, publisher, zap.NewNop())
	err := r.AdvanceTo(ctx, id, from, to)
	assert.ErrorIs(t, err, models.ErrInstanceNotActive)
	publisher.AssertNotCalled(t, "PublishInstanceUpdate", mock.Anything, mock.Anything)
}

func TestInstanceRegistry_PublishFailureDoesNotFailAdvance(t *testing.T) {
	ctx := context.Background()
	id, from, to := uuid.New(), uuid.New(), uuid.New()

	instances := new(mocks.InstanceRepository)
	publisher := new(mocks.InstanceEventPublisher)
	instances.On("AdvanceTo", ctx, mock.Anything, id, from, to).Return(nil)
	publisher.On("PublishInstanceUpdate", ctx, mock.MatchedBy(func(u models.InstanceUpdate) bool {
		return u.Type == models.InstanceEventAdvanced && u.NodeID != nil && *u.NodeID == to
	})).Return(errors.New("broker down")).Once()

	r := NewInstanceRegistry(nil, instances, publisher, zap.NewNop())
	assert.NoError(t, r.AdvanceTo(ctx, id, from, to))
	publisher.AssertExpectations(t)
}

func TestDispatcher(t *testing.T) {
	task := models.Task{Kind: models.TaskBotChoices, InstanceID: uuid.New(), NodeID: uuid.New()}

	t.Run("Queued when the scheduler accepts", func(t *testing.T) {
		scheduler := new(mocks.TaskScheduler)
		scheduler.On("Schedule", mock.Anything, task, mock.AnythingOfType("time.Time")).Return(nil).Once()

		d := NewDispatcher(scheduler, time.Second, zap.NewNop())
		var ran atomic.Int32
		d.Bind(func(context.Context, models.Task) error { ran.Add(1); return nil })
		d.After(context.Background(), task, time.Minute)
		d.Wait()

		scheduler.AssertExpectations(t)
		assert.Zero(t, ran.Load())
	})

	t.Run("Runs in-process when scheduling fails", func(t *testing.T) {
		scheduler := new(mocks.TaskScheduler)
		scheduler.On("Schedule", mock.Anything, task, mock.Anything).Return(errors.New("redis down")).Once()

		d := NewDispatcher(scheduler, time.Second, zap.NewNop())
		got := make(chan models.Task, 1)
		d.Bind(func(ctx context.Context, tk models.Task) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "fallback context is bounded")
			got <- tk
			return nil
		})
		d.After(context.Background(), task, 10*time.Millisecond)
		d.Wait()

		require.Len(t, got, 1)
		assert.Equal(t, task, <-got)
	})

	t.Run("Nil scheduler always runs locally", func(t *testing.T) {
		d := NewDispatcher(nil, time.Second, zap.NewNop())
		var ran atomic.Int32
		d.Bind(func(context.Context, models.Task) error { ran.Add(1); return errors.New("ignored") })
		d.After(context.Background(), task, 0)
		d.Wait()
		assert.Equal(t, int32(1), ran.Load())
	})

	t.Run("Shutdown drops delayed tasks without waiting for them", func(t *testing.T) {
		d := NewDispatcher(nil, time.Second, zap.NewNop())
		var ran atomic.Int32
		d.Bind(func(context.Context, models.Task) error { ran.Add(1); return nil })
		d.After(context.Background(), task, time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		started := time.Now()
		require.NoError(t, d.Shutdown(ctx))
		assert.Less(t, time.Since(started), time.Second)
		assert.Zero(t, ran.Load())

		// после остановки новые локальные задачи не запускаются
		d.After(context.Background(), task, 0)
		d.Wait()
		assert.Zero(t, ran.Load())
	})

	t.Run("Stop cancels a running task", func(t *testing.T) {
		d := NewDispatcher(nil, time.Minute, zap.NewNop())
		running := make(chan struct{})
		var cancelled atomic.Bool
		d.Bind(func(ctx context.Context, _ models.Task) error {
			close(running)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		})
		d.After(context.Background(), task, 0)
		<-running

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))
		assert.True(t, cancelled.Load())
	})

	t.Run("Shutdown honours its deadline", func(t *testing.T) {
		d := NewDispatcher(nil, time.Minute, zap.NewNop())
		release := make(chan struct{})
		running := make(chan struct{})
		d.Bind(func(context.Context, models.Task) error {
			close(running)
			<-release
			return nil
		})
		d.After(context.Background(), task, 0)
		<-running

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
		close(release)
		d.Wait()
	})
}

func TestBotChat(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, chance float64) (*harness, uuid.UUID, *BotChat) {
		h := newHarness(t)
		f := newForest(3)
		h.seed(f)
		joined, err := h.service.Join(ctx, "user-1", f.story.ID)
		require.NoError(t, err)

		cfg := testBotConfig()
		cfg.PeriodicChatChance = chance
		chat := NewBotChat(nil, h.store, h.store, memAssignments{h.store}, h.store, h.cooldown, h.generator, nil, h.publisher, random.New(7), cfg, zap.NewNop())
		return h, joined.InstanceID, chat
	}

	t.Run("Cooldown suppresses periodic chat", func(t *testing.T) {
		h, id, chat := setup(t, 1)
		h.cooldown.On("TryAcquire", ctx, id).Return(false, nil).Once()

		active, err := chat.Periodic(ctx, id)
		require.NoError(t, err)
		assert.True(t, active)
		h.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Zero chance never speaks", func(t *testing.T) {
		h, id, chat := setup(t, 0)
		active, err := chat.Periodic(ctx, id)
		require.NoError(t, err)
		assert.True(t, active)
		h.cooldown.AssertNotCalled(t, "TryAcquire", mock.Anything, mock.Anything)
	})

	t.Run("Periodic line is posted by a bot", func(t *testing.T) {
		h, id, chat := setup(t, 1)
		h.cooldown.On("TryAcquire", ctx, id).Return(true, nil).Once()
		h.generator.On("Generate", ctx, mock.MatchedBy(func(req models.BotLineRequest) bool {
			return !req.IsReply() && req.CharacterName != "" &&
				req.StoryContext == "Story: The Forest\nCurrent Scene: Edge of the forest\nTwo paths."
		})).Return("The trees are whispering.", nil).Once()

		_, err := chat.Periodic(ctx, id)
		require.NoError(t, err)

		history, err := h.store.ListRecent(ctx, nil, id, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.True(t, history[0].FromBot)
		h.generator.AssertExpectations(t)
	})

	t.Run("Too short lines are dropped", func(t *testing.T) {
		h, id, chat := setup(t, 1)
		h.cooldown.On("TryAcquire", ctx, id).Return(true, nil).Once()
		h.generator.On("Generate", ctx, mock.Anything).Return(" k ", nil).Once()

		_, err := chat.Periodic(ctx, id)
		require.NoError(t, err)
		history, _ := h.store.ListRecent(ctx, nil, id, 10)
		assert.Empty(t, history)
	})

	t.Run("Reply without human lines is a no-op", func(t *testing.T) {
		h, id, chat := setup(t, 1)
		require.NoError(t, chat.Reply(ctx, id))
		h.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		h.cooldown.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything)
	})

	t.Run("Completed instance stops the periodic schedule", func(t *testing.T) {
		h, id, chat := setup(t, 1)
		inst := h.instance(t, id)
		require.NoError(t, h.store.Complete(ctx, nil, id, *inst.CurrentNodeID))

		active, err := chat.Periodic(ctx, id)
		require.NoError(t, err)
		assert.False(t, active)
	})
}
