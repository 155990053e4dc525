package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage реплика в чате экземпляра. Автор хранится как персонаж, не как участник.
type ChatMessage struct {
	ID            uuid.UUID `json:"id" db:"id"`
	InstanceID    uuid.UUID `json:"instanceId" db:"instance_id"`
	CharacterID   uuid.UUID `json:"characterId" db:"character_id"`
	CharacterName string    `json:"characterName" db:"character_name"`
	FromBot       bool      `json:"-" db:"from_bot"`
	Message       string    `json:"message" db:"message"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
