package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role is the author of a chat or prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRoles are the allowed message roles.
var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// Character is the persona the model plays.
type Character struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
	Personality     string    `json:"personality,omitempty" yaml:"personality,omitempty"`
	Scenario        string    `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	SystemPrompt    string    `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	ExampleDialogue string    `json:"example_dialogue,omitempty" yaml:"example_dialogue,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
}

// Chat is a conversation with one character.
type Chat struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is one persisted turn of a chat.
type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary compresses the 1-based message range [FromMessage, ToMessage]
// of a chat. Rows are append-only.
type ChatSummary struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	FromMessage int       `json:"from_message"`
	ToMessage   int       `json:"to_message"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
}

// SummariesInRange returns the summaries fully contained in [from, to],
// ordered by FromMessage.
func SummariesInRange(summaries []ChatSummary, from, to int) []ChatSummary {
	if from > to {
		return nil
	}
	var out []ChatSummary
	for _, s := range summaries {
		if s.FromMessage >= from && s.ToMessage <= to {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FromMessage < out[j].FromMessage
	})
	return out
}

// FormatSummaries renders summaries as labelled blocks separated by blank lines.
func FormatSummaries(summaries []ChatSummary) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		parts = append(parts, fmt.Sprintf("[Messages %d-%d] %s", s.FromMessage, s.ToMessage, strings.TrimSpace(s.Summary)))
	}
	return strings.Join(parts, "\n\n")
}
