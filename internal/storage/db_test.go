package storage

import (
	"bytes"
	"testing"

	"github.com/unlocklabs/unlock/internal/packet"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInstanceRoundTrip(t *testing.T) {
	db := openTestDB(t)

	img := packet.NewImage("Topic", []packet.ContentItem{
		{Kind: packet.KindExternal, URL: "https://a.example/one"},
	})
	if err := db.PutImage(img); err != nil {
		t.Fatal(err)
	}

	inst, err := packet.Instantiate(img, packet.KindMedia)
	if err != nil {
		t.Fatal(err)
	}
	inst.VisitedUrls.Add("https://a.example/one")
	if err := db.PutInstance(inst); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetInstance(inst.InstanceID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Topic != "Topic" || !got.VisitedUrls.Has("https://a.example/one") {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := db.DeleteInstance(inst.InstanceID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetInstance(inst.InstanceID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssetOwnership(t *testing.T) {
	db := openTestDB(t)

	img := packet.NewImage("Topic", nil)
	if err := db.PutImage(img); err != nil {
		t.Fatal(err)
	}

	payload := []byte("RIFFfakewavdata")
	info, err := db.PutAsset(img.ID, "aud-1", "audio/wav", payload)
	if err != nil {
		t.Fatal(err)
	}
	if info.Hash == "" || info.Size != len(payload) {
		t.Fatalf("bad asset info: %+v", info)
	}

	got, mime, err := db.GetAsset(img.ID, "aud-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) || mime != "audio/wav" {
		t.Fatalf("asset mismatch: %d bytes, mime %s", len(got), mime)
	}

	// Deleting the image deletes its assets.
	if err := db.DeleteImage(img.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.GetAsset(img.ID, "aud-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after image delete, got %v", err)
	}
}

func TestSessionKVClearedOnOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SessionPut("audio_progress_i_p", "30.5"); err != nil {
		t.Fatal(err)
	}
	v, err := db.SessionGet("audio_progress_i_p")
	if err != nil || v != "30.5" {
		t.Fatalf("got %q, %v", v, err)
	}
	db.Close()

	// Reopen: session values must be gone, instance data stays.
	db2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	if _, err := db2.SessionGet("audio_progress_i_p"); err != ErrNotFound {
		t.Fatalf("session kv must not survive reopen, got %v", err)
	}
}

func TestBrowserState(t *testing.T) {
	db := openTestDB(t)

	st := &packet.BrowserState{
		InstanceID: "inst-1",
		TabGroupID: 7,
		TabToURL:   map[int]string{1: "https://a.example/one"},
	}
	if err := db.PutBrowserState(st); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetBrowserState("inst-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TabGroupID != 7 || got.TabToURL[1] != "https://a.example/one" {
		t.Fatalf("mismatch: %+v", got)
	}
}
