package routes

import (
	"net/http"

	"github.com/unlocklabs/unlock/internal/coordinator"
)

// registerTabRoutes takes in what the browser observes: navigations, focus
// changes, closed tabs and completed generated pages.
func registerTabRoutes(mux *http.ServeMux, d Deps) {

	// POST /api/tabs/url — a tab navigated
	mux.HandleFunc("/api/tabs/url", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			TabID int    `json:"tab_id"`
			URL   string `json:"url"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if req.URL == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		d.Coord.Dispatch(coordinator.Event{
			Type:  coordinator.EvTabURLChanged,
			TabID: req.TabID,
			URL:   req.URL,
		})
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// POST /api/tabs/activated — focus changed
	mux.HandleFunc("/api/tabs/activated", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			TabID int `json:"tab_id"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		d.Coord.Dispatch(coordinator.Event{
			Type:  coordinator.EvTabActivated,
			TabID: req.TabID,
		})
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// POST /api/tabs/closed
	mux.HandleFunc("/api/tabs/closed", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			TabID int `json:"tab_id"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		d.Coord.Dispatch(coordinator.Event{
			Type:  coordinator.EvTabClosed,
			TabID: req.TabID,
		})
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// POST /api/pages/complete — page_interaction_complete, sent by a
	// generated page (quiz finished, flashcards done) or by a content
	// script on behalf of a url.
	mux.HandleFunc("/api/pages/complete", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			PageID string `json:"page_id"`
			URL    string `json:"url"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if req.PageID == "" && req.URL == "" {
			http.Error(w, "missing page_id or url", http.StatusBadRequest)
			return
		}
		d.Coord.Dispatch(coordinator.Event{
			Type:   coordinator.EvPageComplete,
			PageID: req.PageID,
			URL:    req.URL,
		})
		writeJSON(w, map[string]string{"status": "ok"})
	})
}
