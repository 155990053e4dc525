package models

import "github.com/google/uuid"

// CharacterSummary публичная информация о персонаже истории.
type CharacterSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// RevealedParticipant раскрытый персонаж другого участника.
type RevealedParticipant struct {
	CharacterID   uuid.UUID `json:"characterId"`
	CharacterName string    `json:"characterName"`
	IsBot         bool      `json:"isBot"`
}

// MyCharacter персонаж вызывающего участника.
type MyCharacter struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsRevealed  bool      `json:"isRevealed"`
}

// InstanceState состояние экземпляра глазами участника.
type InstanceState struct {
	Instance    StoryInstance         `json:"instance"`
	StoryTitle  string                `json:"storyTitle"`
	MaxPlayers  int                   `json:"maxPlayers"`
	Characters  []CharacterSummary    `json:"characters"`
	MyCharacter MyCharacter           `json:"myCharacter"`
	Revealed    []RevealedParticipant `json:"revealed"`
}

// VoteProgress сколько выборов собрано на узле.
type VoteProgress struct {
	Submitted int `json:"submitted"`
	Expected  int `json:"expected"`
}

// NodeView узел с вариантами, доступными персонажу участника.
type NodeView struct {
	ID        uuid.UUID    `json:"id"`
	Key       string       `json:"nodeKey"`
	Title     string       `json:"title"`
	Body      string       `json:"content"`
	IsEnding  bool         `json:"isEnding"`
	IsCurrent bool         `json:"isCurrent"`
	Choices   []Choice     `json:"choices"`
	MyChoice  *string      `json:"myChoice"`
	Progress  VoteProgress `json:"progress"`
}

// SubmitResult итог отправки выбора.
type SubmitResult struct {
	Success          bool           `json:"success"`
	AlreadySubmitted bool           `json:"alreadySubmitted"`
	InstanceStatus   InstanceStatus `json:"instanceStatus"`
	CurrentNodeID    *uuid.UUID     `json:"currentNodeId"`
	Step             string         `json:"step,omitempty"`
}
