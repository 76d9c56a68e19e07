package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/teamgrid/collabcore/internal/model"
)

// Cache persists the newest page of messages per channel in a local SQLite
// database so a re-mounted channel view renders immediately while the fetch
// is in flight. Only confirmed messages are written; tombstoned and pending
// entries never reach the cache.
type Cache struct {
	db         *sql.DB
	perChannel int
	mu         sync.Mutex
}

// OpenCache opens or creates the cache database at path. perChannel bounds
// how many of the newest messages are kept per channel.
func OpenCache(path string, perChannel int) (*Cache, error) {
	if perChannel <= 0 {
		perChannel = 100
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		CREATE TABLE IF NOT EXISTS messages (
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			body       TEXT NOT NULL,
			PRIMARY KEY (channel_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel_created
			ON messages (channel_id, created_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Cache{db: db, perChannel: perChannel}, nil
}

// Put replaces the cached page for channelID with the newest perChannel
// entries of msgs (msgs arrive in ascending time order).
func (c *Cache) Put(channelID string, msgs []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(msgs) > c.perChannel {
		msgs = msgs[len(msgs)-c.perChannel:]
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO messages (channel_id, message_id, created_at, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("cache encode %s: %w", m.ID, err)
		}
		if _, err := stmt.Exec(channelID, m.ID.String(), m.CreatedAt.UnixMilli(), string(body)); err != nil {
			return fmt.Errorf("cache insert %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the cached page for channelID in ascending time order.
// A missing channel yields an empty slice, not an error.
func (c *Cache) Load(channelID string) ([]model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT body FROM messages WHERE channel_id = ? ORDER BY created_at ASC, message_id ASC`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("cache scan: %w", err)
		}
		var m model.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			// A corrupt row is skipped rather than failing the whole page.
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Drop removes the cached page for one channel.
func (c *Cache) Drop(channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID)
	return err
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
