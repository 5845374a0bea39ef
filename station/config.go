package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the station configuration, loaded from YAML with
// environment overrides applied on top.
type Config struct {
	Media struct {
		// Path is the library root: regular/, holiday/,
		// announcements/, intros/ and outros/ live under it.
		Path string `yaml:"path"`
	} `yaml:"media"`

	State struct {
		Path string `yaml:"path"`
	} `yaml:"state"`

	Decoder struct {
		Path string `yaml:"path"`
	} `yaml:"decoder"`

	Bridge struct {
		SocketPath string `yaml:"socket_path"`
	} `yaml:"bridge"`

	Tower struct {
		EventsURL string `yaml:"events_url"`
	} `yaml:"tower"`

	DJ struct {
		LegalIDIntervalMin int `yaml:"legal_id_interval_min"`
		ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	} `yaml:"dj"`

	Logging struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Media.Path = "/srv/retrowaves/media"
	cfg.State.Path = "/var/lib/retrowaves/dj_state.json"
	cfg.Decoder.Path = "lame"
	cfg.Bridge.SocketPath = "/tmp/retrowaves-pcm.sock"
	cfg.Tower.EventsURL = "http://127.0.0.1:8140"
	cfg.DJ.LegalIDIntervalMin = 60
	cfg.DJ.ShutdownTimeoutSec = 300
	cfg.Logging.File = "/var/log/retrowaves/station.log"
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads the YAML file (optional), applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envString("DJ_PATH", &cfg.Media.Path)
	envString("DJ_STATE_PATH", &cfg.State.Path)
	envString("TOWER_PCM_SOCKET_PATH", &cfg.Bridge.SocketPath)
	envString("STATION_TOWER_EVENTS_URL", &cfg.Tower.EventsURL)
	envInt("STATION_SHUTDOWN_TIMEOUT_SEC", &cfg.DJ.ShutdownTimeoutSec)
	envString("LOG_LEVEL", &cfg.Logging.Level)
}

func envString(name string, out *string) {
	if v := os.Getenv(name); v != "" {
		*out = v
	}
}

func envInt(name string, out *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*out = n
		}
	}
}

// Validate rejects values the playout path cannot run with.
func (c *Config) Validate() error {
	if c.Media.Path == "" {
		return fmt.Errorf("media.path must not be empty")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path must not be empty")
	}
	if c.Bridge.SocketPath == "" {
		return fmt.Errorf("bridge.socket_path must not be empty")
	}
	if c.Tower.EventsURL == "" {
		return fmt.Errorf("tower.events_url must not be empty")
	}
	if c.DJ.LegalIDIntervalMin < 1 {
		return fmt.Errorf("dj.legal_id_interval_min must be at least 1, got %d", c.DJ.LegalIDIntervalMin)
	}
	if c.DJ.ShutdownTimeoutSec < 1 {
		return fmt.Errorf("dj.shutdown_timeout_sec must be at least 1, got %d", c.DJ.ShutdownTimeoutSec)
	}
	return nil
}
