// Package archive persists inbound chat messages in a local SQLite file
// so reply context and history lookups survive restarts.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quailyquaily/wabridge/bridge"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	chat_jid        TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	participant_jid TEXT NOT NULL DEFAULT '',
	text            TEXT NOT NULL,
	ts              INTEGER NOT NULL,
	is_group        INTEGER NOT NULL DEFAULT 0,
	media_kind      TEXT NOT NULL DEFAULT '',
	media_path      TEXT NOT NULL DEFAULT '',
	synthetic       INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (chat_jid, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_jid, ts);
`

type Message struct {
	ChatJID        string    `json:"chat_jid"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	ParticipantJID string    `json:"participant_jid,omitempty"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	IsGroup        bool      `json:"is_group,omitempty"`
	MediaKind      string    `json:"media_kind,omitempty"`
	MediaPath      string    `json:"media_path,omitempty"`
	Synthetic      bool      `json:"synthetic,omitempty"`
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("archive: path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", strings.TrimSuffix(strings.TrimSpace(pragma), ";"), err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.db.Close()
}

// RecordEvent stores one inbound event. Synthetic records never overwrite
// anything; a real record replaces a synthetic placeholder for the same
// message but leaves an existing real row alone.
func (s *Store) RecordEvent(ctx context.Context, ev *bridge.InboundEvent) error {
	if ev == nil {
		return errors.New("archive: nil event")
	}
	mediaKind, mediaPath := "", ""
	if ev.Media != nil {
		mediaKind, mediaPath = ev.Media.Kind, ev.Media.Path
	}
	args := []any{
		ev.ChatJID, ev.MessageID, ev.SenderID, ev.ParticipantJID, ev.Text,
		ev.Timestamp.UTC().Unix(), boolToInt(ev.IsGroup), mediaKind, mediaPath,
		boolToInt(ev.Synthetic), time.Now().UTC().Unix(),
	}

	if ev.Synthetic {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (chat_jid, message_id, sender_id, participant_jid, text, ts, is_group, media_kind, media_path, synthetic, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chat_jid, message_id) DO NOTHING`, args...)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (chat_jid, message_id, sender_id, participant_jid, text, ts, is_group, media_kind, media_path, synthetic, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chat_jid, message_id) DO UPDATE SET
	sender_id = excluded.sender_id,
	participant_jid = excluded.participant_jid,
	text = excluded.text,
	ts = excluded.ts,
	is_group = excluded.is_group,
	media_kind = excluded.media_kind,
	media_path = excluded.media_path,
	synthetic = 0
WHERE messages.synthetic = 1`, args...)
	return err
}

func (s *Store) Has(ctx context.Context, chatJID, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE chat_jid = ? AND message_id = ? LIMIT 1`,
		chatJID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Recent returns up to limit messages for a chat in chronological order.
func (s *Store) Recent(ctx context.Context, chatJID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT chat_jid, message_id, sender_id, participant_jid, text, ts, is_group, media_kind, media_path, synthetic
FROM messages
WHERE chat_jid = ?
ORDER BY ts DESC, created_at DESC
LIMIT ?`, chatJID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		var isGroup, synthetic int
		if err := rows.Scan(&m.ChatJID, &m.MessageID, &m.SenderID, &m.ParticipantJID, &m.Text,
			&ts, &isGroup, &m.MediaKind, &m.MediaPath, &synthetic); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		m.IsGroup = isGroup != 0
		m.Synthetic = synthetic != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
