package routes

import (
	"net/http"

	"github.com/unlocklabs/unlock/internal/proto"
	"github.com/unlocklabs/unlock/internal/ui/viewmodels"
)

// registerPanelRoutes serves the side panel projection: per-card visibility
// and highlight flags computed server-side from the active instance.
func registerPanelRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/api/panel", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		inst, ok := d.Coord.ActiveInstance()
		if !ok {
			writeJSON(w, map[string]any{"active": false})
			return
		}
		vm := viewmodels.BuildPanel(inst, d.Coord.State(), d.Norm, d.BaseURL)
		writeJSON(w, map[string]any{"active": true, "panel": vm})
	})

	// GET /api/panel/session — the PlaybackState mirror a reloading panel
	// reads before its SSE stream delivers the first live snapshot.
	mux.HandleFunc("/api/panel/session", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		v, err := d.DB.SessionGet(proto.PlaybackStateKey)
		if err != nil {
			writeJSON(w, map[string]any{"present": false})
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"present":true,"state":` + v + `}`))
	})
}
