package routes

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	highlighting "github.com/yuin/goldmark-highlighting/v2"

	"github.com/unlocklabs/unlock/internal/storage"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
<main class="unlock-page">{{.Body}}</main>
<script>
window.unlockComplete = function () {
  fetch("/api/pages/complete", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({page_id: {{.PageID}}})
  });
};
</script>
</body>
</html>
`))

// registerPageRoutes renders generated content pages. The page source is
// markdown stored as an asset of the image revision; rendering happens at
// serve time so a re-imported revision is immediately live.
func registerPageRoutes(mux *http.ServeMux, d Deps) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
				highlighting.WithFormatOptions(chromahtml.WithClasses(false)),
			),
		),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	// GET /pages/{imageID}/{pageID}
	mux.HandleFunc("/pages/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		tail := strings.TrimPrefix(r.URL.Path, "/pages/")
		parts := strings.SplitN(tail, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			http.Error(w, "expected /pages/{image}/{page}", http.StatusBadRequest)
			return
		}
		imageID, pageID := parts[0], parts[1]

		payload, mime, err := d.DB.GetAsset(imageID, pageID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "page not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		if mime != "text/markdown" {
			http.Error(w, "not a renderable page", http.StatusUnsupportedMediaType)
			return
		}

		var body bytes.Buffer
		if err := md.Convert(payload, &body); err != nil {
			http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
			return
		}

		title := pageTitle(payload, pageID)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = pageTmpl.Execute(w, struct {
			Title  string
			PageID string
			Body   template.HTML
		}{title, pageID, template.HTML(body.String())})
	})
}

// pageTitle takes the first "# Heading" line, falling back to the page id.
func pageTitle(markdown []byte, fallback string) string {
	for _, line := range strings.Split(string(markdown), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimPrefix(line, "# ")
		}
	}
	return fallback
}
