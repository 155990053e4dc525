package models

import (
	"time"

	"github.com/google/uuid"
)

// InstanceEventType тип события экземпляра для клиентов.
type InstanceEventType string

const (
	InstanceEventActivated   InstanceEventType = "instance_activated"
	InstanceEventAdvanced    InstanceEventType = "instance_advanced"
	InstanceEventCompleted   InstanceEventType = "instance_completed"
	InstanceEventChoiceAdded InstanceEventType = "choice_submitted"
	InstanceEventChatMessage InstanceEventType = "chat_message"
)

// InstanceUpdate сообщение в шине событий экземпляров.
type InstanceUpdate struct {
	Type        InstanceEventType `json:"type"`
	InstanceID  uuid.UUID         `json:"instance_id"`
	NodeID      *uuid.UUID        `json:"node_id,omitempty"`
	Status      InstanceStatus    `json:"status,omitempty"`
	Submitted   int               `json:"submitted,omitempty"`
	Expected    int               `json:"expected,omitempty"`
	ChatMessage *ChatMessage      `json:"chat_message,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
