package routes

import (
	"net/http"
	"time"
)

var startedAt = time.Now()

// registerStatusRoutes exposes daemon health for the extension popup.
func registerStatusRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		snap := d.Coord.State()
		out := map[string]any{
			"version":        d.Version,
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
			"base_url":       d.BaseURL,
			"active":         snap.InstanceID != "",
			"playing":        snap.IsPlaying,
		}
		if insts, err := d.DB.ListInstances(); err == nil {
			out["packet_count"] = len(insts)
		}
		if imgs, err := d.DB.ListImages(); err == nil {
			out["image_count"] = len(imgs)
		}
		writeJSON(w, out)
	})
}
