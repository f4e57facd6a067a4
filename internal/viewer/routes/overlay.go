package routes

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/proto"
	"github.com/unlocklabs/unlock/internal/util"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Overlay scripts connect from arbitrary page origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// overlayRegistry holds at most one socket per tab. A re-injected overlay
// replaces the previous binding, which makes injection idempotent from the
// server's point of view.
type overlayRegistry struct {
	mu    sync.Mutex
	conns map[int]*websocket.Conn
}

func (reg *overlayRegistry) bind(tabID int, conn *websocket.Conn) {
	reg.mu.Lock()
	old := reg.conns[tabID]
	reg.conns[tabID] = conn
	reg.mu.Unlock()
	if old != nil {
		log.Printf("OVERLAY [%d]: replacing stale socket", tabID)
		_ = old.Close()
	}
}

func (reg *overlayRegistry) unbind(tabID int, conn *websocket.Conn) {
	reg.mu.Lock()
	if reg.conns[tabID] == conn {
		delete(reg.conns, tabID)
	}
	reg.mu.Unlock()
}

// registerOverlayRoutes wires the per-tab WebSocket channel: snapshots go
// down, intents come up.
func registerOverlayRoutes(mux *http.ServeMux, d Deps) {
	reg := &overlayRegistry{conns: make(map[int]*websocket.Conn)}

	mux.HandleFunc("/ws/overlay", func(w http.ResponseWriter, r *http.Request) {
		tabID := atoiOrNeg(r.URL.Query().Get("tab"))
		if tabID < 0 {
			http.Error(w, "missing or invalid tab", http.StatusBadRequest)
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("OVERLAY [%d]: upgrade error: %v", tabID, err)
			return
		}
		defer conn.Close()

		reg.bind(tabID, conn)
		defer reg.unbind(tabID, conn)
		log.Printf("OVERLAY [%d]: connected", tabID)

		snaps, cancel := d.Coord.Subscribe()
		defer cancel()

		// Intents flow up on a reader goroutine; its exit means the socket
		// is gone.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				var in proto.OverlayIntent
				if err := conn.ReadJSON(&in); err != nil {
					return
				}
				switch in.Verb {
				case proto.VerbRequestPlaybackAction:
					d.Coord.Dispatch(coordinator.Event{
						Type:   coordinator.EvIntent,
						Action: in.Action,
					})
				case proto.VerbOpenContent:
					if in.URL != "" {
						if err := util.OpenURL(in.URL); err != nil {
							log.Printf("OVERLAY [%d]: open %s: %v", tabID, in.URL, err)
						}
					}
				case proto.VerbPageInteractionComplete:
					d.Coord.Dispatch(coordinator.Event{
						Type: coordinator.EvPageComplete,
						URL:  in.URL,
					})
				}
			}
		}()

		// Catch the overlay up, then stream.
		if err := conn.WriteJSON(d.Coord.State()); err != nil {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				log.Printf("OVERLAY [%d]: disconnected", tabID)
				return
			case <-readerDone:
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			}
		}
	})
}
