// Package store persists message history and peer sightings in SQLite
// (WAL mode). Persistence is optional: a node without a store path runs
// entirely in memory.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB wraps *sql.DB with domain helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the embedded DDL schema to the database.
// It is idempotent (IF NOT EXISTS everywhere).
func Migrate(db *DB) error {
	ddl := []string{
		ddlMessages,
		ddlPeers,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// ── DDL statements ────────────────────────────────────────────────────────

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    link_id     TEXT    NOT NULL,          -- protocol id, "src_seq"
    kind        TEXT    NOT NULL,          -- DATA | PING | PONG | ACK
    src         TEXT    NOT NULL,
    dst         TEXT    NOT NULL,
    content     TEXT,                      -- JSON payload, NULL for control kinds
    rssi        INTEGER NOT NULL DEFAULT 0,
    snr         REAL    NOT NULL DEFAULT 0,
    received_at INTEGER NOT NULL           -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages (received_at DESC);
`

const ddlPeers = `
CREATE TABLE IF NOT EXISTS peers (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id       TEXT    NOT NULL UNIQUE,
    last_seen     INTEGER NOT NULL,        -- Unix seconds
    battery_volts REAL    NOT NULL DEFAULT 0
);
`

// ── Records ───────────────────────────────────────────────────────────────

// Message is one received protocol message.
type Message struct {
	ID         int64          `json:"id"`
	LinkID     string         `json:"link_id"`
	Kind       string         `json:"kind"`
	Src        string         `json:"src"`
	Dst        string         `json:"dst"`
	Content    map[string]any `json:"content,omitempty"`
	RSSI       int            `json:"rssi"`
	SNR        float64        `json:"snr"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Peer is the last known state of a remote node.
type Peer struct {
	NodeID       string    `json:"node_id"`
	LastSeen     time.Time `json:"last_seen"`
	BatteryVolts float64   `json:"battery_volts"`
}

// InsertMessage records a message and returns its row id.
func (db *DB) InsertMessage(m *Message) (int64, error) {
	var content sql.NullString
	if m.Content != nil {
		data, err := json.Marshal(m.Content)
		if err != nil {
			return 0, fmt.Errorf("store: encode content: %w", err)
		}
		content = sql.NullString{String: string(data), Valid: true}
	}
	res, err := db.Exec(`
		INSERT INTO messages (link_id, kind, src, dst, content, rssi, snr, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.LinkID, m.Kind, m.Src, m.Dst, content, m.RSSI, m.SNR,
		m.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return res.LastInsertId()
}

// ListMessages returns the n most recent messages, newest first.
func (db *DB) ListMessages(n int) ([]*Message, error) {
	rows, err := db.Query(`
		SELECT id, link_id, kind, src, dst, content, rssi, snr, received_at
		FROM messages ORDER BY received_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m       Message
			content sql.NullString
			ms      int64
		)
		if err := rows.Scan(&m.ID, &m.LinkID, &m.Kind, &m.Src, &m.Dst,
			&content, &m.RSSI, &m.SNR, &ms); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if content.Valid {
			if err := json.Unmarshal([]byte(content.String), &m.Content); err != nil {
				return nil, fmt.Errorf("store: decode content: %w", err)
			}
		}
		m.ReceivedAt = time.UnixMilli(ms).UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UpsertPeer creates or refreshes a peer row.
func (db *DB) UpsertPeer(p *Peer) error {
	_, err := db.Exec(`
		INSERT INTO peers (node_id, last_seen, battery_volts)
		VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE
		  SET last_seen     = excluded.last_seen,
		      battery_volts = excluded.battery_volts`,
		p.NodeID, p.LastSeen.Unix(), p.BatteryVolts,
	)
	if err != nil {
		return fmt.Errorf("store: upsert peer: %w", err)
	}
	return nil
}

// ListPeers returns all known peers, most recently seen first.
func (db *DB) ListPeers() ([]*Peer, error) {
	rows, err := db.Query(`
		SELECT node_id, last_seen, battery_volts
		FROM peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list peers: %w", err)
	}
	defer rows.Close()

	var out []*Peer
	for rows.Next() {
		var (
			p  Peer
			ts int64
		)
		if err := rows.Scan(&p.NodeID, &ts, &p.BatteryVolts); err != nil {
			return nil, fmt.Errorf("store: scan peer: %w", err)
		}
		p.LastSeen = time.Unix(ts, 0).UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}
