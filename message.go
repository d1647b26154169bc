package pipelinecore

import "time"

// MessageRole identifies the author of a message log entry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is a single entry in a workflow's replayable message log. Entries
// are appended only, never modified, so the log can reconstruct the input
// context a stage saw on resume.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	AgentID   string      `json:"agent_id,omitempty"`
}

// NewUserMessage returns a Message with RoleUser at the current UTC time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage returns a Message with RoleAssistant tagged with the
// agent that produced it.
func NewAssistantMessage(content, agentID string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC(), AgentID: agentID}
}

func copyMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
