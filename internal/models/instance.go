package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// InstanceStatus статус жизненного цикла экземпляра истории.
type InstanceStatus string

const (
	InstanceStatusWaiting   InstanceStatus = "WAITING"
	InstanceStatusActive    InstanceStatus = "ACTIVE"
	InstanceStatusCompleted InstanceStatus = "COMPLETED"
)

// BotParticipantPrefix зарезервированный префикс идентификаторов ботов.
const BotParticipantPrefix = "bot_"

// StoryInstance одно прохождение истории фиксированной группой участников.
type StoryInstance struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	StoryID       uuid.UUID      `json:"storyId" db:"story_id"`
	Status        InstanceStatus `json:"status" db:"status"`
	CurrentNodeID *uuid.UUID     `json:"currentNodeId" db:"current_node_id"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
}

// InstanceCursor позиция постраничного обхода экземпляров по (created_at, id).
// Нулевое значение означает начало списка.
type InstanceCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Cursor позиция сразу после этого экземпляра.
func (i *StoryInstance) Cursor() InstanceCursor {
	return InstanceCursor{CreatedAt: i.CreatedAt, ID: i.ID}
}

// IsAt сообщает, находится ли экземпляр на указанном узле.
func (i *StoryInstance) IsAt(nodeID uuid.UUID) bool {
	return i.CurrentNodeID != nil && *i.CurrentNodeID == nodeID
}

// CharacterAssignment привязка участника к персонажу внутри экземпляра.
type CharacterAssignment struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	InstanceID           uuid.UUID `json:"instanceId" db:"instance_id"`
	ParticipantID        string    `json:"participantId" db:"participant_id"`
	CharacterID          uuid.UUID `json:"characterId" db:"character_id"`
	CharacterName        string    `json:"characterName" db:"character_name"`
	CharacterDescription string    `json:"characterDescription" db:"character_description"`
	IsRevealed           bool      `json:"isRevealed" db:"is_revealed"`
	CreatedAt            time.Time `json:"createdAt" db:"created_at"`
}

// IsBot сообщает, принадлежит ли назначение боту.
func (a *CharacterAssignment) IsBot() bool {
	return IsBotParticipant(a.ParticipantID)
}

// IsBotParticipant проверяет принадлежность идентификатора пространству ботов.
func IsBotParticipant(participantID string) bool {
	return strings.HasPrefix(participantID, BotParticipantPrefix)
}

// BotParticipantID детерминированно строит идентификатор бота из экземпляра и персонажа.
func BotParticipantID(instanceID, characterID uuid.UUID) string {
	return BotParticipantPrefix + instanceID.String() + "_" + characterID.String()
}

// ChoiceSubmission строка журнала выборов: один выбор участника на узел.
type ChoiceSubmission struct {
	InstanceID    uuid.UUID `json:"instanceId" db:"instance_id"`
	NodeID        uuid.UUID `json:"nodeId" db:"node_id"`
	ParticipantID string    `json:"participantId" db:"participant_id"`
	ChoiceKey     string    `json:"choiceKey" db:"choice_key"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// QuorumSnapshot согласованный срез состояния экземпляра, полученный одним запросом.
type QuorumSnapshot struct {
	InstanceID    uuid.UUID      `db:"id"`
	StoryID       uuid.UUID      `db:"story_id"`
	Status        InstanceStatus `db:"status"`
	CurrentNodeID *uuid.UUID     `db:"current_node_id"`
	Expected      int            `db:"expected"`
	Submitted     int            `db:"submitted"`
}

// AssignmentResult результат присоединения участника к истории.
type AssignmentResult struct {
	InstanceID     uuid.UUID      `json:"instanceId"`
	CharacterName  string         `json:"characterName"`
	CharacterID    uuid.UUID      `json:"characterId"`
	CurrentNodeID  *uuid.UUID     `json:"currentNodeId"`
	InstanceStatus InstanceStatus `json:"instanceStatus"`
	Message        string         `json:"message"`
}

// OpenInstanceSlot экземпляр, принимающий участников, с текущей занятостью.
type OpenInstanceSlot struct {
	ID            uuid.UUID      `db:"id"`
	Status        InstanceStatus `db:"status"`
	AssignedCount int            `db:"assigned_count"`
}
