package service

import (
	"context"
	"sync"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/google/uuid"
)

// memStore хранилище в памяти с теми же гарантиями уникальности и CAS, что и Postgres.
type memStore struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	stories     map[uuid.UUID]*models.Story
	nodes       map[uuid.UUID]*models.StoryNode
	instances   map[uuid.UUID]*models.StoryInstance
	order       []uuid.UUID
	assignments map[uuid.UUID][]models.CharacterAssignment
	ledger      map[[2]uuid.UUID][]models.ChoiceSubmission
	chat        map[uuid.UUID][]models.ChatMessage
	now         time.Time
}

var (
	_ interfaces.CatalogRepository  = (*memStore)(nil)
	_ interfaces.InstanceRepository = (*memStore)(nil)
	_ interfaces.ChatRepository     = (*memStore)(nil)
	_ interfaces.TxManager          = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		stories:     make(map[uuid.UUID]*models.Story),
		nodes:       make(map[uuid.UUID]*models.StoryNode),
		instances:   make(map[uuid.UUID]*models.StoryInstance),
		assignments: make(map[uuid.UUID][]models.CharacterAssignment),
		ledger:      make(map[[2]uuid.UUID][]models.ChoiceSubmission),
		chat:        make(map[uuid.UUID][]models.ChatMessage),
		now:         time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.now = m.now.Add(time.Millisecond)
	return m.now
}

func (m *memStore) addStory(story *models.Story, nodes ...models.StoryNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories[story.ID] = story
	for i := range nodes {
		n := nodes[i]
		n.StoryID = story.ID
		m.nodes[n.ID] = &n
	}
}

// WithTx сериализует транзакции, как FOR UPDATE на строке экземпляра.
func (m *memStore) WithTx(_ context.Context, fn func(tx interfaces.DBTX) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(nil)
}

// --- catalog ---

func (m *memStore) GetStory(_ context.Context, _ interfaces.DBTX, storyID uuid.UUID) (*models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[storyID]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetNode(_ context.Context, _ interfaces.DBTX, storyID uuid.UUID, nodeKey string) (*models.StoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		if n.StoryID == storyID && n.Key == nodeKey {
			cp := *n
			return &cp, nil
		}
	}
	return nil, models.ErrNodeNotFound
}

func (m *memStore) GetNodeByID(_ context.Context, _ interfaces.DBTX, nodeID uuid.UUID) (*models.StoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, models.ErrNodeNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) ListStories(_ context.Context, _ interfaces.DBTX) ([]models.StorySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.StorySummary, 0, len(m.stories))
	for _, s := range m.stories {
		out = append(out, models.StorySummary{ID: s.ID, Title: s.Title, Description: s.Description, MaxPlayers: s.MaxPlayers})
	}
	return out, nil
}

// --- instances ---

func (m *memStore) Create(_ context.Context, _ interfaces.DBTX, storyID uuid.UUID) (*models.StoryInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := &models.StoryInstance{ID: uuid.New(), StoryID: storyID, Status: models.InstanceStatusWaiting, CreatedAt: m.tick()}
	m.instances[inst.ID] = inst
	m.order = append(m.order, inst.ID)
	cp := *inst
	return &cp, nil
}

func (m *memStore) GetByID(_ context.Context, _ interfaces.DBTX, instanceID uuid.UUID) (*models.StoryInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) LockByID(ctx context.Context, q interfaces.DBTX, instanceID uuid.UUID) (*models.StoryInstance, error) {
	return m.GetByID(ctx, q, instanceID)
}

func (m *memStore) ListOpen(_ context.Context, _ interfaces.DBTX, storyID uuid.UUID) ([]models.OpenInstanceSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OpenInstanceSlot
	for _, id := range m.order {
		inst := m.instances[id]
		if inst.StoryID != storyID || inst.Status == models.InstanceStatusCompleted {
			continue
		}
		out = append(out, models.OpenInstanceSlot{ID: id, Status: inst.Status, AssignedCount: len(m.assignments[id])})
	}
	return out, nil
}

func (m *memStore) Activate(_ context.Context, _ interfaces.DBTX, instanceID, startNodeID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[instanceID]
	if inst == nil || inst.Status != models.InstanceStatusWaiting {
		return false, nil
	}
	inst.Status = models.InstanceStatusActive
	if inst.CurrentNodeID == nil {
		id := startNodeID
		inst.CurrentNodeID = &id
	}
	return true, nil
}

func (m *memStore) AdvanceTo(_ context.Context, _ interfaces.DBTX, instanceID, fromNodeID, toNodeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[instanceID]
	if inst == nil {
		return models.ErrInstanceNotFound
	}
	if inst.Status != models.InstanceStatusActive || !inst.IsAt(fromNodeID) {
		return models.ErrStaleNode
	}
	to := toNodeID
	inst.CurrentNodeID = &to
	return nil
}

func (m *memStore) Complete(_ context.Context, _ interfaces.DBTX, instanceID, atNodeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[instanceID]
	if inst == nil {
		return models.ErrInstanceNotFound
	}
	if inst.Status != models.InstanceStatusActive || !inst.IsAt(atNodeID) {
		return models.ErrStaleNode
	}
	at := m.tick()
	inst.Status = models.InstanceStatusCompleted
	inst.CompletedAt = &at
	return nil
}

func (m *memStore) QuorumSnapshot(_ context.Context, _ interfaces.DBTX, instanceID, nodeID uuid.UUID) (*models.QuorumSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	return &models.QuorumSnapshot{
		InstanceID:    inst.ID,
		StoryID:       inst.StoryID,
		Status:        inst.Status,
		CurrentNodeID: inst.CurrentNodeID,
		Expected:      len(m.assignments[instanceID]),
		Submitted:     len(m.ledger[[2]uuid.UUID{instanceID, nodeID}]),
	}, nil
}

func (m *memStore) ListActive(_ context.Context, _ interfaces.DBTX, after models.InstanceCursor, limit int) ([]models.StoryInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StoryInstance
	for _, id := range m.order {
		inst := m.instances[id]
		if inst.Status != models.InstanceStatusActive || !inst.CreatedAt.After(after.CreatedAt) || len(out) >= limit {
			continue
		}
		out = append(out, *inst)
	}
	return out, nil
}

// --- assignments ---

func (m *memStore) CreateAssignment(a *models.CharacterAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments[a.InstanceID] {
		if existing.CharacterID == a.CharacterID || existing.ParticipantID == a.ParticipantID {
			return models.ErrCharacterTaken
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = m.tick()
	m.assignments[a.InstanceID] = append(m.assignments[a.InstanceID], *a)
	return nil
}

func (m *memStore) assignmentsOf(instanceID uuid.UUID) []models.CharacterAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CharacterAssignment(nil), m.assignments[instanceID]...)
}

func (m *memStore) choicesOf(instanceID, nodeID uuid.UUID) []models.ChoiceSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChoiceSubmission(nil), m.ledger[[2]uuid.UUID{instanceID, nodeID}]...)
}

// memAssignments адаптер: имя Create уже занято репозиторием экземпляров.
type memAssignments struct{ *memStore }

var _ interfaces.AssignmentRepository = memAssignments{}

func (a memAssignments) Create(_ context.Context, _ interfaces.DBTX, assignment *models.CharacterAssignment) error {
	return a.CreateAssignment(assignment)
}

// LockParticipant транзакции memStore и так выполняются по одной.
func (a memAssignments) LockParticipant(context.Context, interfaces.DBTX, uuid.UUID, string) error {
	return nil
}

func (m *memStore) Get(_ context.Context, _ interfaces.DBTX, instanceID uuid.UUID, participantID string) (*models.CharacterAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments[instanceID] {
		if a.ParticipantID == participantID {
			cp := a
			return &cp, nil
		}
	}
	return nil, models.ErrNotParticipant
}

func (m *memStore) FindActive(_ context.Context, _ interfaces.DBTX, storyID uuid.UUID, participantID string) (*models.CharacterAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		inst := m.instances[id]
		if inst.StoryID != storyID || inst.Status != models.InstanceStatusActive {
			continue
		}
		for _, a := range m.assignments[id] {
			if a.ParticipantID == participantID {
				cp := a
				return &cp, nil
			}
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) ListByInstance(_ context.Context, _ interfaces.DBTX, instanceID uuid.UUID) ([]models.CharacterAssignment, error) {
	return m.assignmentsOf(instanceID), nil
}

func (m *memStore) SetRevealed(_ context.Context, _ interfaces.DBTX, instanceID uuid.UUID, participantID string, revealed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.assignments[instanceID]
	for i := range list {
		if list[i].ParticipantID == participantID {
			list[i].IsRevealed = revealed
			return nil
		}
	}
	return models.ErrNotParticipant
}

// --- ledger ---

// memLedger адаптер: Get уже занят репозиторием назначений.
type memLedger struct{ *memStore }

var _ interfaces.ChoiceLedger = memLedger{}

func (l memLedger) Submit(_ context.Context, _ interfaces.DBTX, s *models.ChoiceSubmission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]uuid.UUID{s.InstanceID, s.NodeID}
	for _, existing := range l.ledger[key] {
		if existing.ParticipantID == s.ParticipantID {
			return models.ErrAlreadySubmitted
		}
	}
	s.CreatedAt = l.tick()
	l.ledger[key] = append(l.ledger[key], *s)
	return nil
}

func (l memLedger) CountForNode(_ context.Context, _ interfaces.DBTX, instanceID, nodeID uuid.UUID) (int, error) {
	return len(l.choicesOf(instanceID, nodeID)), nil
}

func (l memLedger) AllChoices(_ context.Context, _ interfaces.DBTX, instanceID, nodeID uuid.UUID) ([]models.ChoiceSubmission, error) {
	return l.choicesOf(instanceID, nodeID), nil
}

func (l memLedger) Get(_ context.Context, _ interfaces.DBTX, instanceID, nodeID uuid.UUID, participantID string) (*models.ChoiceSubmission, error) {
	for _, s := range l.choicesOf(instanceID, nodeID) {
		if s.ParticipantID == participantID {
			cp := s
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// --- chat ---

func (m *memStore) Append(_ context.Context, _ interfaces.DBTX, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = m.tick()
	m.chat[msg.InstanceID] = append(m.chat[msg.InstanceID], *msg)
	return nil
}

func (m *memStore) ListRecent(_ context.Context, _ interfaces.DBTX, instanceID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.chat[instanceID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.ChatMessage(nil), all...), nil
}
