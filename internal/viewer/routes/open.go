package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/unlocklabs/unlock/internal/util"
)

// registerOpenRoute wires open_content: views ask the daemon to open a
// packet link in the system browser.
func registerOpenRoute(mux *http.ServeMux) {
	mux.HandleFunc("/api/open", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		var req struct {
			URL string `json:"url"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		raw := strings.TrimSpace(req.URL)
		if raw == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" {
			http.Error(w, "invalid url", http.StatusBadRequest)
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			http.Error(w, "scheme not allowed", http.StatusBadRequest)
			return
		}
		if err := util.OpenURL(raw); err != nil {
			http.Error(w, fmt.Sprintf("failed to open browser: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})
}
