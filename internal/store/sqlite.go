package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewID returns a new sortable record id.
func NewID() string {
	return ulid.Make().String()
}

// Open opens a SQLite store from a sqlite:// DSN.
func Open(dsn string) (*SQLiteStore, error) {
	path, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(path)
}

// ParseDSN turns sqlite://<path> into a filesystem path. A leading ~/ is
// expanded to the home directory.
func ParseDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "sqlite://") {
		return "", fmt.Errorf("invalid sqlite DSN %q, expected sqlite://", dsn)
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" {
		return "", fmt.Errorf("invalid sqlite DSN %q: empty path", dsn)
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(30000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS characters (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		personality      TEXT NOT NULL DEFAULT '',
		scenario         TEXT NOT NULL DEFAULT '',
		system_prompt    TEXT NOT NULL DEFAULT '',
		example_dialogue TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id           TEXT PRIMARY KEY,
		character_id TEXT NOT NULL REFERENCES characters(id),
		title        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_character ON chats(character_id);

	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		chat_id    TEXT NOT NULL REFERENCES chats(id),
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		embedding  BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);

	CREATE TABLE IF NOT EXISTS lore_entries (
		id                TEXT PRIMARY KEY,
		character_id      TEXT NOT NULL DEFAULT '',
		keywords          TEXT NOT NULL DEFAULT '[]',
		content           TEXT NOT NULL,
		priority          INTEGER NOT NULL DEFAULT 50,
		enabled           INTEGER NOT NULL DEFAULT 1,
		case_sensitive    INTEGER NOT NULL DEFAULT 0,
		match_whole_words INTEGER NOT NULL DEFAULT 0,
		position          INTEGER NOT NULL DEFAULT 0,
		depth             INTEGER NOT NULL DEFAULT 0,
		category          TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		embedding         BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_lore_character ON lore_entries(character_id);

	CREATE TABLE IF NOT EXISTS chat_summaries (
		id           TEXT PRIMARY KEY,
		chat_id      TEXT NOT NULL REFERENCES chats(id),
		from_message INTEGER NOT NULL,
		to_message   INTEGER NOT NULL,
		summary      TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		UNIQUE (chat_id, from_message)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateCharacter(ctx context.Context, c *model.Character) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (id, name, description, personality, scenario, system_prompt, example_dialogue, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.Personality, c.Scenario, c.SystemPrompt, c.ExampleDialogue, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}
	return nil
}

const characterColumns = `id, name, description, personality, scenario, system_prompt, example_dialogue, created_at`

func (s *SQLiteStore) GetCharacter(ctx context.Context, id string) (*model.Character, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, id)
	c, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ListCharacters(ctx context.Context) ([]model.Character, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateChat(ctx context.Context, c *model.Chat) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, character_id, title, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.CharacterID, c.Title, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, character_id, title, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.CharacterID, &c.Title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *model.ChatMessage) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, string(m.Role), m.Content, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessage, error) {
	if skip < 0 {
		skip = 0
	}
	limit := take
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages
		 WHERE chat_id = ? ORDER BY seq LIMIT ? OFFSET ?`, chatID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetMessageEmbedding(ctx context.Context, messageID string, v embedding.Vector) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET embedding = ? WHERE id = ?`, embedding.Encode(v), messageID)
	if err != nil {
		return fmt.Errorf("set message embedding: %w", err)
	}
	return requireRow(res, "message", messageID)
}

func (s *SQLiteStore) PutLoreEntry(ctx context.Context, e *model.LoreEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	keywords, err := json.Marshal(nonNil(e.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	// Replacing content invalidates any stored embedding.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lore_entries (id, character_id, keywords, content, priority, enabled, case_sensitive,
		                           match_whole_words, position, depth, category, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   character_id = excluded.character_id,
		   keywords = excluded.keywords,
		   content = excluded.content,
		   priority = excluded.priority,
		   enabled = excluded.enabled,
		   case_sensitive = excluded.case_sensitive,
		   match_whole_words = excluded.match_whole_words,
		   position = excluded.position,
		   depth = excluded.depth,
		   category = excluded.category,
		   embedding = CASE WHEN lore_entries.content = excluded.content THEN lore_entries.embedding END`,
		e.ID, e.CharacterID, string(keywords), e.Content, e.Priority, e.Enabled, e.CaseSensitive,
		e.MatchWholeWords, int(e.Position), e.Depth, e.Category, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("put lore entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteLoreEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lore_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lore entry: %w", err)
	}
	return requireRow(res, "lore entry", id)
}

func (s *SQLiteStore) ListLore(ctx context.Context, characterID string) ([]LoreRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, character_id, keywords, content, priority, enabled, case_sensitive, match_whole_words,
		        position, depth, category, created_at, embedding
		 FROM lore_entries WHERE character_id = ? OR character_id = '' ORDER BY id`, characterID)
	if err != nil {
		return nil, fmt.Errorf("list lore: %w", err)
	}
	defer rows.Close()

	var out []LoreRecord
	for rows.Next() {
		var r LoreRecord
		var keywords, createdAt string
		var position int
		var blob []byte
		e := &r.Entry
		err := rows.Scan(&e.ID, &e.CharacterID, &keywords, &e.Content, &e.Priority, &e.Enabled,
			&e.CaseSensitive, &e.MatchWholeWords, &position, &e.Depth, &e.Category, &createdAt, &blob)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
			return nil, fmt.Errorf("lore entry %s keywords: %w", e.ID, err)
		}
		e.Position = model.Position(position)
		e.CreatedAt = parseTime(createdAt)
		if len(blob) > 0 {
			if r.Embedding, err = embedding.Decode(blob); err != nil {
				return nil, fmt.Errorf("lore entry %s: %w", e.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetLoreEmbedding(ctx context.Context, entryID string, v embedding.Vector) error {
	res, err := s.db.ExecContext(ctx, `UPDATE lore_entries SET embedding = ? WHERE id = ?`, embedding.Encode(v), entryID)
	if err != nil {
		return fmt.Errorf("set lore embedding: %w", err)
	}
	return requireRow(res, "lore entry", entryID)
}

func (s *SQLiteStore) CreateSummary(ctx context.Context, sum *model.ChatSummary) error {
	if sum.ID == "" {
		sum.ID = NewID()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_summaries (id, chat_id, from_message, to_message, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id, from_message) DO NOTHING`,
		sum.ID, sum.ChatID, sum.FromMessage, sum.ToMessage, sum.Summary, formatTime(sum.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return requireInserted(res, sum)
}

// requireInserted maps an ignored conflicting insert to ErrSummaryExists.
func requireInserted(res sql.Result, sum *model.ChatSummary) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chat %s from %d: %w", sum.ChatID, sum.FromMessage, ErrSummaryExists)
	}
	return nil
}

const summaryColumns = `id, chat_id, from_message, to_message, summary, created_at`

func (s *SQLiteStore) LatestSummary(ctx context.Context, chatID string) (*model.ChatSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE chat_id = ? ORDER BY to_message DESC LIMIT 1`, chatID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary for chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *SQLiteStore) ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE chat_id = ? ORDER BY from_message`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row scanner) (model.Character, error) {
	var c model.Character
	var createdAt string
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Personality, &c.Scenario,
		&c.SystemPrompt, &c.ExampleDialogue, &createdAt)
	if err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func scanSummary(row scanner) (model.ChatSummary, error) {
	var sum model.ChatSummary
	var createdAt string
	err := row.Scan(&sum.ID, &sum.ChatID, &sum.FromMessage, &sum.ToMessage, &sum.Summary, &createdAt)
	if err != nil {
		return sum, err
	}
	sum.CreatedAt = parseTime(createdAt)
	return sum, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
