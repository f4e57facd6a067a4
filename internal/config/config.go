package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/util"
)

type Config struct {
	Paths    Paths    `json:"paths"`
	Viewer   Viewer   `json:"viewer"`
	Playback Playback `json:"playback"`
	Packets  Packets  `json:"packets"`
}

type Paths struct {
	DataDir string `json:"data_dir"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

type Playback struct {
	// DwellSeconds is how long a focused tab must stay on an external url
	// before it counts as visited.
	DwellSeconds int `json:"dwell_seconds"`

	// TrackingParams are glob patterns for query parameters that are
	// ignored when comparing urls.
	TrackingParams []string `json:"tracking_params"`
}

type Packets struct {
	// PreferredKind picks the winning variant when an image item offers
	// alternatives (external, generated or media).
	PreferredKind string `json:"preferred_kind"`
}

func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "data",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8787",
			Debug:    false,
		},
		Playback: Playback{
			DwellSeconds:   5,
			TrackingParams: []string{"utm_*"},
		},
		Packets: Packets{
			PreferredKind: packet.KindMedia,
		},
	}
}

func (c *Config) Validate() error {
	// Paths
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	// Viewer
	if addr := strings.TrimSpace(c.Viewer.HTTPAddr); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
		if host == "" || port == "" {
			return errors.New("viewer.http_addr must be host:port")
		}
	}

	// Playback
	if c.Playback.DwellSeconds <= 0 {
		return errors.New("playback.dwell_seconds must be > 0")
	}
	for _, p := range c.Playback.TrackingParams {
		if strings.TrimSpace(p) == "" {
			return errors.New("playback.tracking_params must not contain empty patterns")
		}
	}

	// Packets
	switch c.Packets.PreferredKind {
	case packet.KindExternal, packet.KindGenerated, packet.KindMedia:
	default:
		return errors.New("packets.preferred_kind must be external, generated or media")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
