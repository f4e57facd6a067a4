package storage

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// AssetInfo describes a stored audio asset without its payload.
type AssetInfo struct {
	ImageID string `json:"image_id"`
	PageID  string `json:"page_id"`
	Mime    string `json:"mime"`
	Hash    string `json:"hash"` // blake2b-256 of the payload
	Size    int    `json:"size"`
}

func hashBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PutAsset stores the raw audio payload for (imageID, pageID), replacing any
// previous payload for the same key.
func (d *DB) PutAsset(imageID, pageID, mime string, payload []byte) (AssetInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mime == "" {
		mime = "audio/wav"
	}
	info := AssetInfo{
		ImageID: imageID,
		PageID:  pageID,
		Mime:    mime,
		Hash:    hashBytes(payload),
		Size:    len(payload),
	}
	_, err := d.db.Exec(
		`INSERT INTO audio_assets (image_id, page_id, mime, hash, bytes, created) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(image_id, page_id) DO UPDATE SET mime = excluded.mime, hash = excluded.hash, bytes = excluded.bytes`,
		imageID, pageID, mime, info.Hash, payload, time.Now().UnixMilli())
	if err != nil {
		return AssetInfo{}, fmt.Errorf("put asset: %w", err)
	}
	return info, nil
}

// GetAsset returns the raw payload and mime for (imageID, pageID).
func (d *DB) GetAsset(imageID, pageID string) ([]byte, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var payload []byte
	var mime string
	err := d.db.QueryRow(
		`SELECT bytes, mime FROM audio_assets WHERE image_id = ? AND page_id = ?`,
		imageID, pageID).Scan(&payload, &mime)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get asset: %w", err)
	}
	return payload, mime, nil
}

// AssetInfoFor returns asset metadata without loading the payload.
func (d *DB) AssetInfoFor(imageID, pageID string) (AssetInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info := AssetInfo{ImageID: imageID, PageID: pageID}
	err := d.db.QueryRow(
		`SELECT mime, hash, length(bytes) FROM audio_assets WHERE image_id = ? AND page_id = ?`,
		imageID, pageID).Scan(&info.Mime, &info.Hash, &info.Size)
	if err == sql.ErrNoRows {
		return AssetInfo{}, ErrNotFound
	}
	if err != nil {
		return AssetInfo{}, fmt.Errorf("asset info: %w", err)
	}
	return info, nil
}

// DeleteAssetsForImage removes every asset owned by the image revision.
func (d *DB) DeleteAssetsForImage(imageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(`DELETE FROM audio_assets WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("delete assets: %w", err)
	}
	return nil
}
