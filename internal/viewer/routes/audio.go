package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/mention"
	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/storage"
)

// registerAudioRoutes serves narration bytes and the waveform strip.
func registerAudioRoutes(mux *http.ServeMux, d Deps) {

	// GET /audio/{instanceID}/{pageID} — the WAV the browser's <audio>
	// element plays. Re-encoded from decoded PCM so a valid asset always
	// yields a well-formed stream.
	mux.HandleFunc("/audio/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		tail := strings.TrimPrefix(r.URL.Path, "/audio/")
		parts := strings.SplitN(tail, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			http.Error(w, "expected /audio/{instance}/{page}", http.StatusBadRequest)
			return
		}
		inst, err := d.DB.GetInstance(parts[0])
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "packet not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		pageID := parts[1]

		// The asset hash doubles as a cache validator; the payload for a
		// given hash never changes.
		if info, err := d.DB.AssetInfoFor(inst.ImageID, pageID); err == nil {
			etag := `"` + info.Hash + `"`
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", etag)
		}

		b, err := d.Audio.Stream(inst.ImageID, pageID)
		if errors.Is(err, audio.ErrAssetMissing) {
			http.Error(w, "no audio for page", http.StatusNotFound)
			return
		}
		if errors.Is(err, audio.ErrDecodeFailed) {
			http.Error(w, "asset not decodable", http.StatusUnprocessableEntity)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(b)
	})

	// GET /api/waveform?instance=&page=&width= — peak columns with
	// mention/visited classes for the media card strip.
	mux.HandleFunc("/api/waveform", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		instanceID := r.URL.Query().Get("instance")
		pageID := r.URL.Query().Get("page")
		width := atoiOrNeg(r.URL.Query().Get("width"))
		if instanceID == "" || pageID == "" {
			http.Error(w, "missing instance or page", http.StatusBadRequest)
			return
		}
		if width <= 0 {
			width = 120
		}
		if width > 2000 {
			width = 2000
		}

		inst, err := d.DB.GetInstance(instanceID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "packet not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		item := packet.FindByPageID(inst, pageID)
		if item == nil || item.Kind != packet.KindMedia {
			http.Error(w, "no media item for page", http.StatusNotFound)
			return
		}

		clip, err := d.Audio.ClipFor(inst.ImageID, pageID)
		if errors.Is(err, audio.ErrAssetMissing) {
			http.Error(w, "no audio for page", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusUnprocessableEntity)
			return
		}

		snap := d.Coord.State()
		current := 0.0
		if snap.InstanceID == instanceID && snap.PageID == pageID {
			current = snap.CurrentTime
		}

		idx := mention.NewIndex(item.Timestamps)
		cols := mention.Waveform(clip.Mono(), current, clip.Duration(), idx,
			func(url string) bool {
				return inst.VisitedUrls.Has(d.Norm.Canonical(url))
			}, width)

		writeJSON(w, map[string]any{
			"duration": clip.Duration(),
			"columns":  cols,
		})
	})
}
