package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
)

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func (c *Client) CreateCharacter(ctx context.Context, ch *model.Character) error {
	if ch.ID == "" {
		ch.ID = store.NewID()
	}
	stamp(&ch.CreatedAt)
	_, err := c.pool.Exec(ctx, `
INSERT INTO characters (id, name, description, personality, scenario, system_prompt, example_dialogue, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.ID, ch.Name, ch.Description, ch.Personality, ch.Scenario, ch.SystemPrompt, ch.ExampleDialogue, ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting character: %w", err)
	}
	return nil
}

const characterColumns = `id, name, description, personality, scenario, system_prompt, example_dialogue, created_at`

func scanCharacter(row pgx.Row) (model.Character, error) {
	var ch model.Character
	err := row.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.Personality, &ch.Scenario,
		&ch.SystemPrompt, &ch.ExampleDialogue, &ch.CreatedAt)
	return ch, err
}

func (c *Client) GetCharacter(ctx context.Context, id string) (*model.Character, error) {
	ch, err := scanCharacter(c.pool.QueryRow(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("character %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting character: %w", err)
	}
	return &ch, nil
}

func (c *Client) ListCharacters(ctx context.Context) ([]model.Character, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	var out []model.Character
	for rows.Next() {
		ch, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating character rows: %w", err)
	}
	return out, nil
}

func (c *Client) CreateChat(ctx context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		chat.ID = store.NewID()
	}
	stamp(&chat.CreatedAt)
	_, err := c.pool.Exec(ctx,
		`INSERT INTO chats (id, character_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		chat.ID, chat.CharacterID, chat.Title, chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}
	return nil
}

func (c *Client) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := c.pool.QueryRow(ctx, `SELECT id, character_id, title, created_at FROM chats WHERE id = $1`, id).
		Scan(&chat.ID, &chat.CharacterID, &chat.Title, &chat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return &chat, nil
}

func (c *Client) AppendMessage(ctx context.Context, m *model.ChatMessage) error {
	if m.ID == "" {
		m.ID = store.NewID()
	}
	stamp(&m.CreatedAt)
	_, err := c.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (c *Client) CountMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessage, error) {
	var limit *int
	if take > 0 {
		limit = &take
	}
	rows, err := c.pool.Query(ctx, `
SELECT id, chat_id, role, content, created_at FROM messages
WHERE chat_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`, chatID, limit, max(skip, 0))
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = model.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return out, nil
}

func (c *Client) SetMessageEmbedding(ctx context.Context, messageID string, v embedding.Vector) error {
	tag, err := c.pool.Exec(ctx, `UPDATE messages SET embedding = $1 WHERE id = $2`, embedding.Encode(v), messageID)
	if err != nil {
		return fmt.Errorf("setting message embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	return nil
}

func (c *Client) PutLoreEntry(ctx context.Context, e *model.LoreEntry) error {
	if e.ID == "" {
		e.ID = store.NewID()
	}
	stamp(&e.CreatedAt)
	keywords := e.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := c.pool.Exec(ctx, `
INSERT INTO lore_entries (id, character_id, keywords, content, priority, enabled, case_sensitive,
                          match_whole_words, position, depth, category, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    character_id = EXCLUDED.character_id,
    keywords = EXCLUDED.keywords,
    content = EXCLUDED.content,
    priority = EXCLUDED.priority,
    enabled = EXCLUDED.enabled,
    case_sensitive = EXCLUDED.case_sensitive,
    match_whole_words = EXCLUDED.match_whole_words,
    position = EXCLUDED.position,
    depth = EXCLUDED.depth,
    category = EXCLUDED.category,
    embedding = CASE WHEN lore_entries.content = EXCLUDED.content THEN lore_entries.embedding END
`,
		e.ID, e.CharacterID, keywords, e.Content, e.Priority, e.Enabled, e.CaseSensitive,
		e.MatchWholeWords, int(e.Position), e.Depth, e.Category, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting lore entry: %w", err)
	}
	return nil
}

func (c *Client) DeleteLoreEntry(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM lore_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting lore entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lore entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (c *Client) ListLore(ctx context.Context, characterID string) ([]store.LoreRecord, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, character_id, keywords, content, priority, enabled, case_sensitive, match_whole_words,
       position, depth, category, created_at, embedding
FROM lore_entries
WHERE character_id = $1 OR character_id = ''
ORDER BY id`, characterID)
	if err != nil {
		return nil, fmt.Errorf("listing lore: %w", err)
	}
	defer rows.Close()

	var out []store.LoreRecord
	for rows.Next() {
		var r store.LoreRecord
		var position int
		var blob []byte
		e := &r.Entry
		err := rows.Scan(&e.ID, &e.CharacterID, &e.Keywords, &e.Content, &e.Priority, &e.Enabled,
			&e.CaseSensitive, &e.MatchWholeWords, &position, &e.Depth, &e.Category, &e.CreatedAt, &blob)
		if err != nil {
			return nil, fmt.Errorf("scanning lore entry: %w", err)
		}
		e.Position = model.Position(position)
		if len(blob) > 0 {
			if r.Embedding, err = embedding.Decode(blob); err != nil {
				return nil, fmt.Errorf("lore entry %s: %w", e.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lore rows: %w", err)
	}
	return out, nil
}

func (c *Client) SetLoreEmbedding(ctx context.Context, entryID string, v embedding.Vector) error {
	tag, err := c.pool.Exec(ctx, `UPDATE lore_entries SET embedding = $1 WHERE id = $2`, embedding.Encode(v), entryID)
	if err != nil {
		return fmt.Errorf("setting lore embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lore entry %s: %w", entryID, store.ErrNotFound)
	}
	return nil
}

func (c *Client) CreateSummary(ctx context.Context, s *model.ChatSummary) error {
	if s.ID == "" {
		s.ID = store.NewID()
	}
	stamp(&s.CreatedAt)
	tag, err := c.pool.Exec(ctx, `
INSERT INTO chat_summaries (id, chat_id, from_message, to_message, summary, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (chat_id, from_message) DO NOTHING`,
		s.ID, s.ChatID, s.FromMessage, s.ToMessage, s.Summary, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s from %d: %w", s.ChatID, s.FromMessage, store.ErrSummaryExists)
	}
	return nil
}

const summaryColumns = `id, chat_id, from_message, to_message, summary, created_at`

func scanSummary(row pgx.Row) (model.ChatSummary, error) {
	var s model.ChatSummary
	err := row.Scan(&s.ID, &s.ChatID, &s.FromMessage, &s.ToMessage, &s.Summary, &s.CreatedAt)
	return s, err
}

func (c *Client) LatestSummary(ctx context.Context, chatID string) (*model.ChatSummary, error) {
	s, err := scanSummary(c.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE chat_id = $1 ORDER BY to_message DESC LIMIT 1`, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("summary for chat %s: %w", chatID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest summary: %w", err)
	}
	return &s, nil
}

func (c *Client) ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE chat_id = $1 ORDER BY from_message`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	st := &store.Stats{Backend: "postgres"}
	err := c.pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM characters),
       (SELECT COUNT(*) FROM chats),
       (SELECT COUNT(*) FROM messages),
       (SELECT COUNT(*) FROM lore_entries),
       (SELECT COUNT(*) FROM lore_entries WHERE embedding IS NOT NULL),
       (SELECT COUNT(*) FROM chat_summaries)`).
		Scan(&st.Characters, &st.Chats, &st.Messages, &st.LoreEntries, &st.Embedded, &st.Summaries)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
