package routes

import (
	"encoding/json"
	"net/http"

	"github.com/unlocklabs/unlock/internal/proto"
)

// registerEventRoutes streams the coordinator's broadcasts as Server-Sent
// Events: sync_overlay_state snapshots plus packet.deleted notices. The
// side panel lives on this stream.
func registerEventRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		snaps, cancelSnaps := d.Coord.Subscribe()
		defer cancelSnaps()
		notices, cancelNotices := d.Coord.SubscribeNotices()
		defer cancelNotices()

		// Late joiners start from the current state, then tail.
		writeSSEEvent(w, proto.VerbSyncOverlayState, d.Coord.State())
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				writeSSEEvent(w, proto.VerbSyncOverlayState, snap)
				flusher.Flush()
			case n, ok := <-notices:
				if !ok {
					return
				}
				writeSSEEvent(w, n.Verb, n)
				flusher.Flush()
			}
		}
	})
}

func writeSSEEvent(w http.ResponseWriter, event string, v any) {
	b, _ := json.Marshal(v)
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
}
