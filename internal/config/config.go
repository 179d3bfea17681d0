// Package config loads the broker's minimal startup configuration. Full
// configuration management is named an external collaborator in
// spec.md's Out of scope list, so only a handful of fields are modeled
// here. cmd/relaymqd reads ListenAddr and MetricsAddr; FrameMax and
// DefaultVHost are parsed but not used by the broker.
package config

import (
	"os"

	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
)

// Config holds the broker's startup parameters.
type Config struct {
	ListenAddr   string `config:"listen_addr"`
	MetricsAddr  string `config:"metrics_addr"`
	FrameMax     uint32 `config:"frame_max"`
	DefaultVHost string `config:"default_vhost"`
}

// Default returns the compiled-in defaults used when no config file is
// supplied.
func Default() Config {
	return Config{
		ListenAddr:   ":5672",
		MetricsAddr:  ":9419",
		FrameMax:     131072,
		DefaultVHost: "/",
	}
}

// Load reads path (if non-empty) as a YAML config file and overlays it
// onto Default(). A missing path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	parsed, err := yaml.NewConfig(raw)
	if err != nil {
		return cfg, err
	}

	if err := parsed.Unpack(&cfg, ucfg.PathSep(".")); err != nil {
		return cfg, err
	}
	return cfg, nil
}
