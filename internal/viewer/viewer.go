package viewer

import (
	"net/http"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/config"
	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/sdk"
	"github.com/unlocklabs/unlock/internal/storage"
	"github.com/unlocklabs/unlock/internal/urlnorm"
	"github.com/unlocklabs/unlock/internal/viewer/routes"
)

type Viewer struct {
	Coord *coordinator.Coordinator
	DB    *storage.DB
	Norm  *urlnorm.Matcher

	// Audio serves asset bytes and decoded clips to the routes. It shares
	// the decode cache but never owns a playback session; the coordinator's
	// host does.
	Audio *audio.Host

	CfgPath string
	Cfg     *config.Config
	Logs    *LogBuffer

	// Canonical base URL handed to views (e.g. http://127.0.0.1:8787).
	BaseURL string

	Version string
}

func Start(addr string, v Viewer) error {
	mux := http.NewServeMux()

	mux.Handle("/sdk/", http.StripPrefix("/sdk/", noCache(sdk.Handler())))

	baseURL := v.BaseURL
	if baseURL == "" {
		baseURL = "http://" + addr
	}

	routes.Register(mux, routes.Deps{
		Coord:   v.Coord,
		DB:      v.DB,
		Norm:    v.Norm,
		Audio:   v.Audio,
		CfgPath: v.CfgPath,
		Cfg:     v.Cfg,
		Logs:    v.Logs,
		BaseURL: baseURL,
		Version: v.Version,
	})

	return http.ListenAndServe(addr, mux)
}
