package domain

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation as sent to the LLM and stored in memory.
// UserID is nil when the platform did not identify the speaker; the JSON
// form omits the key in that case so that absence survives a round-trip.
type Message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	UserID  *string `json:"user_id,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message. A nil userID leaves the speaker unset.
func UserMessage(content string, userID *string) Message {
	m := Message{Role: RoleUser, Content: content}
	if userID != nil {
		id := *userID
		m.UserID = &id
	}
	return m
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// HasUserID reports whether the message carries a speaker identity.
func (m Message) HasUserID() bool { return m.UserID != nil }

// StringPtr returns a pointer to s. Convenience for optional fields.
func StringPtr(s string) *string { return &s }
