package models

// User is the author of an inbound message or command.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// UserMessage is an admitted inbound user turn. Original holds the
// platform-specific value the adapter needs to reply or show typing.
type UserMessage struct {
	AssistantID      string
	Content          string
	PlatformThreadID string
	User             User
	Original         any
}

// Preview returns at most n runes of the message content for logging.
func (m *UserMessage) Preview(n int) string {
	r := []rune(m.Content)
	if len(r) <= n {
		return m.Content
	}
	return string(r[:n]) + "..."
}
