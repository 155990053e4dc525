package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// StartNodeKey зарезервированный ключ стартового узла истории.
const StartNodeKey = "start"

// Story неизменяемое описание истории из каталога.
type Story struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	Description string      `json:"description" db:"description"`
	MaxPlayers  int         `json:"maxPlayers" db:"max_players"`
	Characters  []Character `json:"characters" db:"-"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
}

// Character архетип персонажа истории. Порядок в Story.Characters задается позицией.
type Character struct {
	ID          uuid.UUID `json:"id" db:"id"`
	StoryID     uuid.UUID `json:"storyId" db:"story_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Position    int       `json:"-" db:"position"`
}

// CharacterByID ищет архетип по ID.
func (s *Story) CharacterByID(id uuid.UUID) (Character, bool) {
	for _, c := range s.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

// StoryNode один узел графа истории.
type StoryNode struct {
	ID       uuid.UUID `json:"id" db:"id"`
	StoryID  uuid.UUID `json:"storyId" db:"story_id"`
	Key      string    `json:"nodeKey" db:"node_key"`
	Title    string    `json:"title" db:"title"`
	Body     string    `json:"content" db:"body"`
	IsEnding bool      `json:"isEnding" db:"is_ending"`
	Choices  []Choice  `json:"choices" db:"-"`
}

// Choice вариант выбора в узле. RestrictedTo пустой - вариант доступен всем персонажам.
type Choice struct {
	Key           string   `json:"key" yaml:"key"`
	Text          string   `json:"text" yaml:"text"`
	TargetNodeKey string   `json:"nextNode" yaml:"next_node"`
	RestrictedTo  []string `json:"characterSpecific,omitempty" yaml:"character_specific,omitempty"`
}

// VisibleTo сообщает, доступен ли вариант персонажу с указанным именем.
func (c Choice) VisibleTo(characterName string) bool {
	if len(c.RestrictedTo) == 0 {
		return true
	}
	return slices.Contains(c.RestrictedTo, characterName)
}

// ChoiceByKey ищет вариант выбора по ключу.
func (n *StoryNode) ChoiceByKey(key string) (Choice, bool) {
	for _, c := range n.Choices {
		if c.Key == key {
			return c, true
		}
	}
	return Choice{}, false
}

// VisibleChoices возвращает варианты, доступные персонажу, в авторском порядке.
func (n *StoryNode) VisibleChoices(characterName string) []Choice {
	visible := make([]Choice, 0, len(n.Choices))
	for _, c := range n.Choices {
		if c.VisibleTo(characterName) {
			visible = append(visible, c)
		}
	}
	return visible
}

// StorySummary краткая информация об истории для списков.
type StorySummary struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	MaxPlayers  int       `json:"maxPlayers" db:"max_players"`
}
