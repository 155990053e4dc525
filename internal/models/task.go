package models

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskKind вид отложенной задачи.
type TaskKind string

const (
	TaskBotChoices   TaskKind = "bot_choices"
	TaskBotChat      TaskKind = "bot_chat"
	TaskBotChatReply TaskKind = "bot_chat_reply"
)

// Task отложенная работа, привязанная к экземпляру. Одинаковые задачи схлопываются в очереди.
type Task struct {
	Kind       TaskKind  `json:"kind"`
	InstanceID uuid.UUID `json:"instance_id"`
	NodeID     uuid.UUID `json:"node_id,omitempty"`
}

func (t Task) String() string {
	if t.NodeID == uuid.Nil {
		return fmt.Sprintf("%s:%s", t.Kind, t.InstanceID)
	}
	return fmt.Sprintf("%s:%s:%s", t.Kind, t.InstanceID, t.NodeID)
}
