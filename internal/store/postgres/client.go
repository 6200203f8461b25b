// Package postgres implements store.Store on PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miounet11/mySillyTavern-sub001/internal/store"
)

var _ store.Store = (*Client)(nil)

type Client struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	c := &Client{pool: pool}
	if err := c.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// EnsureSchema creates the tables when missing. It is idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS characters (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    personality      TEXT NOT NULL DEFAULT '',
    scenario         TEXT NOT NULL DEFAULT '',
    system_prompt    TEXT NOT NULL DEFAULT '',
    example_dialogue TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id           TEXT PRIMARY KEY,
    character_id TEXT NOT NULL REFERENCES characters(id),
    title        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    seq        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    id         TEXT NOT NULL UNIQUE,
    chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    embedding  BYTEA
);

CREATE TABLE IF NOT EXISTS lore_entries (
    id                TEXT PRIMARY KEY,
    character_id      TEXT NOT NULL DEFAULT '',
    keywords          TEXT[] NOT NULL DEFAULT '{}',
    content           TEXT NOT NULL,
    priority          INTEGER NOT NULL DEFAULT 50,
    enabled           BOOLEAN NOT NULL DEFAULT TRUE,
    case_sensitive    BOOLEAN NOT NULL DEFAULT FALSE,
    match_whole_words BOOLEAN NOT NULL DEFAULT FALSE,
    position          INTEGER NOT NULL DEFAULT 0,
    depth             INTEGER NOT NULL DEFAULT 0,
    category          TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL,
    embedding         BYTEA
);

CREATE TABLE IF NOT EXISTS chat_summaries (
    id           TEXT PRIMARY KEY,
    chat_id      TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    from_message INTEGER NOT NULL,
    to_message   INTEGER NOT NULL,
    summary      TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    CONSTRAINT uq_summary_start UNIQUE (chat_id, from_message)
);

CREATE INDEX IF NOT EXISTS idx_chats_character ON chats (character_id);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, seq);
CREATE INDEX IF NOT EXISTS idx_lore_character ON lore_entries (character_id);
`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
