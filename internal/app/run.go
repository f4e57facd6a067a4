package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/config"
	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/storage"
	"github.com/unlocklabs/unlock/internal/urlnorm"
	"github.com/unlocklabs/unlock/internal/util"
	"github.com/unlocklabs/unlock/internal/viewer"
)

type Options struct {
	BaseDir string
	CfgPath string
	Cfg     config.Config
	Version string
}

// Run starts one daemon process and blocks until ctx is cancelled or the
// viewer fails to serve.
func Run(ctx context.Context, opt Options) error {
	logBuf := viewer.NewLogBuffer(800)
	log.SetOutput(logBuf)

	logBanner(opt.BaseDir, opt.CfgPath)

	cfg := opt.Cfg

	dataDir := util.ResolvePath(opt.BaseDir, cfg.Paths.DataDir)
	db, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	norm := urlnorm.NewMatcher(cfg.Playback.TrackingParams)
	addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)

	coord := coordinator.New(coordinator.Options{
		DB:   db,
		Norm: norm,
		NewHost: func(emit func(audio.Event)) coordinator.AudioHost {
			return audio.New(db, emit)
		},
		DwellThreshold: time.Duration(cfg.Playback.DwellSeconds) * time.Second,
		BaseURL:        url,
	})
	defer coord.Close()

	// Serving-only host for the viewer routes. It shares the asset source
	// with the coordinator's host but never owns a playback session, so the
	// coordinator can recreate its own host without racing the routes.
	serving := audio.New(db, func(audio.Event) {})
	defer serving.Close()

	// Apply config edits without a restart. Only the runtime knobs are
	// hot-applied; the listen address needs a restart.
	watcher, err := config.Watch(opt.CfgPath, func(next config.Config) {
		coord.SetDwellThreshold(time.Duration(next.Playback.DwellSeconds) * time.Second)
		norm.SetPatterns(next.Playback.TrackingParams)
	})
	if err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Start(addr, viewer.Viewer{
			Coord:   coord,
			DB:      db,
			Norm:    norm,
			Audio:   serving,
			CfgPath: opt.CfgPath,
			Cfg:     &cfg,
			Logs:    logBuf,
			BaseURL: url,
			Version: opt.Version,
		})
	}()
	log.Printf("APP: viewer listening on %s", url)

	select {
	case <-ctx.Done():
		log.Println("APP: context cancelled, shutting down")
		return nil
	case err := <-errCh:
		return fmt.Errorf("viewer: %w", err)
	}
}
