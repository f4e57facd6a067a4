package routes

import (
	"net/http"

	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/proto"
)

// registerPlaybackRoutes wires the intent surface of the state machine.
func registerPlaybackRoutes(mux *http.ServeMux, d Deps) {

	// POST /api/playback — request_playback_action
	mux.HandleFunc("/api/playback", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		var req proto.PlaybackAction
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if req.Intent == "" {
			http.Error(w, "missing intent", http.StatusBadRequest)
			return
		}

		d.Coord.Dispatch(coordinator.Event{Type: coordinator.EvIntent, Action: req})
		// The intent is accepted, not yet applied. Clients follow the
		// snapshot stream for the outcome.
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "accepted"})
	})

	// GET /api/playback/state — get_playback_state
	mux.HandleFunc("/api/playback/state", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Coord.State())
	})

	// GET /api/playback/error — last non-fatal error status, if any.
	mux.HandleFunc("/api/playback/error", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		st, ok := d.Coord.LastError()
		if !ok {
			writeJSON(w, map[string]any{"present": false})
			return
		}
		writeJSON(w, map[string]any{"present": true, "error": st})
	})
}
