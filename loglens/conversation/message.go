package conversation

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable conversational turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now()}
}

// UserMessage builds a message authored by the caller.
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// AssistantMessage builds a message authored by the model.
func AssistantMessage(content string) Message { return NewMessage(RoleAssistant, content) }

func (r Role) label() string {
	if r == RoleUser {
		return "用户："
	}
	return "AI分析："
}
