package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces/mocks"
	"multiverse-server/internal/models"
	"multiverse-server/internal/random"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.InstanceUpdate
}

func (p *recordingPublisher) PublishInstanceUpdate(_ context.Context, u models.InstanceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *recordingPublisher) count(t models.InstanceEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.updates {
		if u.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	store     *memStore
	scheduler *mocks.TaskScheduler
	publisher *recordingPublisher
	generator *mocks.TextGenerator
	cooldown  *mocks.ChatCooldown
	engine    *ProgressionEngine
	bots      *BotDriver
	service   *storyServiceImpl
}

func testBotConfig() config.BotConfig {
	return config.BotConfig{
		ChoiceDelay:         2 * time.Second,
		ChatIntervalMin:     20 * time.Second,
		ChatIntervalMax:     40 * time.Second,
		ChatReplyDelayMin:   3 * time.Second,
		ChatReplyDelayMax:   5 * time.Second,
		ChatCooldown:        5 * time.Second,
		PeriodicChatChance:  0.9,
		ChatHistoryLines:    10,
		ChatHistoryTokenCap: 600,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	rnd := random.New(42)
	store := newMemStore()
	assignments := memAssignments{store}
	ledger := memLedger{store}

	h := &harness{
		store:     store,
		scheduler: new(mocks.TaskScheduler),
		publisher: &recordingPublisher{},
		generator: new(mocks.TextGenerator),
		cooldown:  new(mocks.ChatCooldown),
	}
	h.scheduler.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := testBotConfig()
	dispatcher := NewDispatcher(h.scheduler, time.Second, logger)
	registry := NewInstanceRegistry(nil, store, h.publisher, logger)
	resolver := NewQuorumResolver(nil, store, ledger, logger)
	h.bots = NewBotDriver(nil, store, assignments, ledger, h.publisher, rnd, cfg, logger).
		WithSleep(func(context.Context, time.Duration) error { return nil })
	h.engine = NewProgressionEngine(nil, store, store, assignments, ledger, registry, resolver, h.bots, dispatcher, cfg, logger)
	joiner := NewAssignmentManager(nil, store, store, store, assignments, rnd, logger)
	chat := NewBotChat(nil, store, store, assignments, store, h.cooldown, h.generator, nil, h.publisher, rnd, cfg, logger)

	h.service = NewStoryService(Deps{
		Catalog:     store,
		Instances:   store,
		Assignments: assignments,
		Ledger:      ledger,
		Chat:        store,
		Publisher:   h.publisher,
	}, joiner, registry, h.engine, chat, dispatcher, rnd, cfg, 4*time.Second, logger)
	return h
}

// scheduled задачи, переданные в очередь, в порядке постановки.
func (h *harness) scheduled() []models.Task {
	var out []models.Task
	for _, c := range h.scheduler.Calls {
		if c.Method == "Schedule" {
			out = append(out, c.Arguments.Get(1).(models.Task))
		}
	}
	return out
}

func (h *harness) scheduledOf(kind models.TaskKind) []models.Task {
	var out []models.Task
	for _, task := range h.scheduled() {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

// forest история из трех персонажей:
// start: go_left -> glade, go_right -> shadow, secret -> vault (только Carol)
// glade: rest -> camp; camp, shadow, vault - концовки.
type forest struct {
	story                             *models.Story
	start, glade, shadow, vault, camp models.StoryNode
	alice, bob, carol                 models.Character
}

func newForest(maxPlayers int) forest {
	storyID := uuid.New()
	f := forest{
		alice: models.Character{ID: uuid.New(), StoryID: storyID, Name: "Alice", Description: "A curious scout", Position: 0},
		bob:   models.Character{ID: uuid.New(), StoryID: storyID, Name: "Bob", Description: "A quiet smith", Position: 1},
		carol: models.Character{ID: uuid.New(), StoryID: storyID, Name: "Carol", Description: "A keeper of secrets", Position: 2},
	}
	f.story = &models.Story{
		ID:         storyID,
		Title:      "The Forest",
		MaxPlayers: maxPlayers,
		Characters: []models.Character{f.alice, f.bob, f.carol},
	}
	f.start = models.StoryNode{ID: uuid.New(), Key: models.StartNodeKey, Title: "Edge of the forest", Body: "Two paths.", Choices: []models.Choice{
		{Key: "go_left", Text: "Go left", TargetNodeKey: "glade"},
		{Key: "go_right", Text: "Go right", TargetNodeKey: "shadow"},
		{Key: "secret", Text: "Open the hidden door", TargetNodeKey: "vault", RestrictedTo: []string{"Carol"}},
	}}
	f.glade = models.StoryNode{ID: uuid.New(), Key: "glade", Title: "Glade", Body: "Sunlight.", Choices: []models.Choice{
		{Key: "rest", Text: "Rest", TargetNodeKey: "camp"},
	}}
	f.shadow = models.StoryNode{ID: uuid.New(), Key: "shadow", Title: "Shadow", IsEnding: true}
	f.vault = models.StoryNode{ID: uuid.New(), Key: "vault", Title: "Vault", IsEnding: true}
	f.camp = models.StoryNode{ID: uuid.New(), Key: "camp", Title: "Camp", IsEnding: true}
	return f
}

func (f forest) nodes() []models.StoryNode {
	return []models.StoryNode{f.start, f.glade, f.shadow, f.vault, f.camp}
}

// activeInstance экземпляр на стартовом узле с заданными участниками и персонажами.
func (h *harness) activeInstance(t *testing.T, f forest, participants map[string]models.Character) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	inst, err := h.store.Create(ctx, nil, f.story.ID)
	require.NoError(t, err)
	for pid, ch := range participants {
		require.NoError(t, h.store.CreateAssignment(&models.CharacterAssignment{
			InstanceID:           inst.ID,
			ParticipantID:        pid,
			CharacterID:          ch.ID,
			CharacterName:        ch.Name,
			CharacterDescription: ch.Description,
		}))
	}
	ok, err := h.store.Activate(ctx, nil, inst.ID, f.start.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return inst.ID
}

func (h *harness) instance(t *testing.T, id uuid.UUID) *models.StoryInstance {
	t.Helper()
	inst, err := h.store.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return inst
}

func (h *harness) seed(f forest) {
	h.store.addStory(f.story, f.nodes()...)
}
