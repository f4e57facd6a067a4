package routes

import (
	"net/http"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/config"
	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/storage"
	"github.com/unlocklabs/unlock/internal/urlnorm"
)

// Logs is the slice of the viewer's log buffer the routes need. Declared
// here to avoid an import cycle with the viewer package.
type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

type Deps struct {
	Coord *coordinator.Coordinator
	DB    *storage.DB
	Norm  *urlnorm.Matcher
	Audio *audio.Host

	CfgPath string
	Cfg     *config.Config
	Logs    Logs

	BaseURL string
	Version string
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)

	registerPlaybackRoutes(mux, d)
	registerTabRoutes(mux, d)
	registerPacketRoutes(mux, d)
	registerPanelRoutes(mux, d)
	registerEventRoutes(mux, d)
	registerOverlayRoutes(mux, d)
	registerAudioRoutes(mux, d)
	registerPageRoutes(mux, d)
	registerOpenRoute(mux)
	registerStatusRoutes(mux, d)
}
