// Package store provides the record store interface and its SQLite
// implementation. A Postgres implementation lives in store/postgres.
package store

import (
	"context"
	"errors"

	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSummaryExists is returned by CreateSummary when a summary for the
	// same chat and starting message is already stored.
	ErrSummaryExists = errors.New("summary already exists")
)

// LoreRecord is a lore entry with its stored embedding, nil when none.
type LoreRecord struct {
	Entry     model.LoreEntry
	Embedding embedding.Vector
}

// Stats holds record counts.
type Stats struct {
	Backend     string `json:"backend"`
	Characters  int    `json:"characters"`
	Chats       int    `json:"chats"`
	Messages    int    `json:"messages"`
	LoreEntries int    `json:"lore_entries"`
	Embedded    int    `json:"embedded_lore_entries"`
	Summaries   int    `json:"summaries"`
}

// Store is the record store used by the prompt pipeline. Message ordinals
// are 1-based positions in creation order.
type Store interface {
	// CreateCharacter stores c, assigning ID and CreatedAt when empty.
	CreateCharacter(ctx context.Context, c *model.Character) error
	GetCharacter(ctx context.Context, id string) (*model.Character, error)
	ListCharacters(ctx context.Context) ([]model.Character, error)

	CreateChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id string) (*model.Chat, error)

	// AppendMessage stores m at the end of its chat.
	AppendMessage(ctx context.Context, m *model.ChatMessage) error
	CountMessages(ctx context.Context, chatID string) (int, error)
	// ListMessages returns up to take messages after skipping the first
	// skip, oldest first. take <= 0 means no limit.
	ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessage, error)
	SetMessageEmbedding(ctx context.Context, messageID string, v embedding.Vector) error

	// PutLoreEntry inserts or replaces e by ID.
	PutLoreEntry(ctx context.Context, e *model.LoreEntry) error
	DeleteLoreEntry(ctx context.Context, id string) error
	// ListLore returns the character's entries plus global entries
	// (empty CharacterID), ordered by id.
	ListLore(ctx context.Context, characterID string) ([]LoreRecord, error)
	SetLoreEmbedding(ctx context.Context, entryID string, v embedding.Vector) error

	// CreateSummary stores s. It returns ErrSummaryExists when the chat
	// already has a summary starting at s.FromMessage.
	CreateSummary(ctx context.Context, s *model.ChatSummary) error
	// LatestSummary returns the summary with the greatest ToMessage, or
	// ErrNotFound.
	LatestSummary(ctx context.Context, chatID string) (*model.ChatSummary, error)
	// ListSummaries returns every summary of the chat ordered by FromMessage.
	ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
