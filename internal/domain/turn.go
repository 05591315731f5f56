// Package domain contains core domain types for the curriculum designer.
package domain

// Speaker identifies who produced a turn.
type Speaker string

const (
	// SpeakerUser marks a turn typed by the signed-in user.
	SpeakerUser Speaker = "user"
	// SpeakerAssistant marks a turn produced by the assistant, including the greeting.
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role Speaker `json:"role"`
	Text string  `json:"text"`
}

// UserTurn returns a user-authored turn.
func UserTurn(text string) Turn {
	return Turn{Role: SpeakerUser, Text: text}
}

// AssistantTurn returns an assistant-authored turn.
func AssistantTurn(text string) Turn {
	return Turn{Role: SpeakerAssistant, Text: text}
}

// Greeting is the synthetic first assistant turn of every fresh conversation.
const Greeting = "Hello! 👋 I'm **Curriculum Designer**.\n\n" +
	"Tell me about the curriculum you'd like to create:\n" +
	"• Subject / Topic?\n• Grade / Age level?\n• Duration?\n• Goals?\n• Special requirements?\n\n" +
	"Ready when you are! 🚀"
