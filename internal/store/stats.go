package store

import (
	"context"
	"fmt"
)

// Stats returns record counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite"}
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.Characters, `SELECT COUNT(*) FROM characters`},
		{&st.Chats, `SELECT COUNT(*) FROM chats`},
		{&st.Messages, `SELECT COUNT(*) FROM messages`},
		{&st.LoreEntries, `SELECT COUNT(*) FROM lore_entries`},
		{&st.Embedded, `SELECT COUNT(*) FROM lore_entries WHERE embedding IS NOT NULL`},
		{&st.Summaries, `SELECT COUNT(*) FROM chat_summaries`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
