// Package storage persists packet images, instances, browser state, audio
// assets and the session-scoped key/value mirror in a single SQLite file.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"

	"github.com/unlocklabs/unlock/internal/packet"
)

var log = logging.Logger("storage")

var ErrNotFound = errors.New("not found")

// DB wraps the engine's SQLite database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database under dataDir. The session_kv table is
// cleared on open: it mirrors browser session storage and must not outlive a
// daemon run.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "unlock.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Foreign keys and WAL mode for better concurrency
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS packet_images (
			id      TEXT PRIMARY KEY,
			data    TEXT NOT NULL,
			created INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS packet_instances (
			instance_id TEXT PRIMARY KEY,
			image_id    TEXT NOT NULL,
			data        TEXT NOT NULL,
			updated     INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS browser_state (
			instance_id TEXT PRIMARY KEY,
			data        TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS audio_assets (
			image_id TEXT NOT NULL,
			page_id  TEXT NOT NULL,
			mime     TEXT NOT NULL DEFAULT 'audio/wav',
			hash     TEXT NOT NULL,
			bytes    BLOB NOT NULL,
			created  INTEGER NOT NULL,
			PRIMARY KEY (image_id, page_id)
		);
		CREATE TABLE IF NOT EXISTS session_kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	if _, err := db.Exec(`DELETE FROM session_kv`); err != nil {
		db.Close()
		return nil, fmt.Errorf("reset session kv: %w", err)
	}

	log.Infof("database open at %s", dbPath)
	return &DB{db: db, path: dbPath}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Path() string {
	return d.path
}

// ── Packet images ────────────────────────────────────────────────────────────

func (d *DB) PutImage(img *packet.PacketImage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO packet_images (id, data, created) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		img.ID, string(b), img.Created)
	if err != nil {
		return fmt.Errorf("put image: %w", err)
	}
	return nil
}

func (d *DB) GetImage(id string) (*packet.PacketImage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var data string
	err := d.db.QueryRow(`SELECT data FROM packet_images WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	var img packet.PacketImage
	if err := json.Unmarshal([]byte(data), &img); err != nil {
		return nil, fmt.Errorf("decode image %s: %w", id, err)
	}
	return &img, nil
}

func (d *DB) ListImages() ([]*packet.PacketImage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT data FROM packet_images ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var out []*packet.PacketImage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var img packet.PacketImage
		if err := json.Unmarshal([]byte(data), &img); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		out = append(out, &img)
	}
	return out, rows.Err()
}

// DeleteImage removes the image and, per asset ownership, every audio asset
// of that revision.
func (d *DB) DeleteImage(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM packet_images WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM audio_assets WHERE image_id = ?`, id); err != nil {
		return fmt.Errorf("delete image assets: %w", err)
	}
	return tx.Commit()
}

// ── Packet instances ─────────────────────────────────────────────────────────

func (d *DB) PutInstance(inst *packet.PacketInstance) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO packet_instances (instance_id, image_id, data, updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(instance_id) DO UPDATE SET data = excluded.data, updated = excluded.updated`,
		inst.InstanceID, inst.ImageID, string(b), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put instance: %w", err)
	}
	return nil
}

func (d *DB) GetInstance(id string) (*packet.PacketInstance, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var data string
	err := d.db.QueryRow(`SELECT data FROM packet_instances WHERE instance_id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	var inst packet.PacketInstance
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", id, err)
	}
	return &inst, nil
}

func (d *DB) ListInstances() ([]*packet.PacketInstance, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT data FROM packet_instances ORDER BY updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*packet.PacketInstance
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var inst packet.PacketInstance
		if err := json.Unmarshal([]byte(data), &inst); err != nil {
			return nil, fmt.Errorf("decode instance: %w", err)
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func (d *DB) DeleteInstance(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM packet_instances WHERE instance_id = ?`, id); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM browser_state WHERE instance_id = ?`, id); err != nil {
		return fmt.Errorf("delete browser state: %w", err)
	}
	return tx.Commit()
}

// ── Browser state ────────────────────────────────────────────────────────────

func (d *DB) PutBrowserState(st *packet.BrowserState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode browser state: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO browser_state (instance_id, data) VALUES (?, ?)
		 ON CONFLICT(instance_id) DO UPDATE SET data = excluded.data`,
		st.InstanceID, string(b))
	if err != nil {
		return fmt.Errorf("put browser state: %w", err)
	}
	return nil
}

func (d *DB) GetBrowserState(instanceID string) (*packet.BrowserState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var data string
	err := d.db.QueryRow(`SELECT data FROM browser_state WHERE instance_id = ?`, instanceID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get browser state: %w", err)
	}
	var st packet.BrowserState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode browser state: %w", err)
	}
	return &st, nil
}
