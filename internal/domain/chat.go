package domain

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single transcript entry. Only the in-progress assistant reply
// at the tail of a Transcript is ever mutated.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage returns a user-authored Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantMessage returns an assistant-authored Message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Text: text}
}
