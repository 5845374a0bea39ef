package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the tower configuration, loaded from YAML with
// environment overrides applied on top. Every field has a default so
// the tower runs with no config file at all.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	PCM struct {
		SocketPath   string `yaml:"socket_path"`
		BufferFrames int    `yaml:"buffer_frames"`
	} `yaml:"pcm"`

	MP3 struct {
		BufferFrames int `yaml:"buffer_frames"`
	} `yaml:"mp3"`

	Encoder struct {
		Enabled          bool   `yaml:"enabled"`
		Path             string `yaml:"path"`
		BitrateKbps      int    `yaml:"bitrate_kbps"`
		StallThresholdMS int    `yaml:"stall_threshold_ms"`
	} `yaml:"encoder"`

	Fallback struct {
		SilenceMP3Path string `yaml:"silence_mp3_path"`
	} `yaml:"fallback"`

	Broadcast struct {
		TickMS          int `yaml:"tick_ms"`
		ClientTimeoutMS int `yaml:"client_timeout_ms"`
	} `yaml:"broadcast"`

	Logging struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"logging"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig enables the optional event mirror to an MQTT broker.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8140
	cfg.PCM.SocketPath = "/tmp/retrowaves-pcm.sock"
	cfg.PCM.BufferFrames = 64
	cfg.MP3.BufferFrames = 32
	cfg.Encoder.Enabled = true
	cfg.Encoder.Path = "lame"
	cfg.Encoder.BitrateKbps = 128
	cfg.Encoder.StallThresholdMS = 2000
	cfg.Broadcast.TickMS = 15
	cfg.Broadcast.ClientTimeoutMS = 250
	cfg.Logging.File = "/var/log/retrowaves/tower.log"
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads the YAML file (optional), applies TOWER_*
// environment overrides, and validates the result.
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

// applyEnvOverrides layers TOWER_* environment variables over the
// file values. Environment wins: it is the deployment's last word.
func applyEnvOverrides(cfg *Config) {
	envString("TOWER_HOST", &cfg.Server.Host)
	envInt("TOWER_PORT", &cfg.Server.Port)
	envString("TOWER_PCM_SOCKET_PATH", &cfg.PCM.SocketPath)
	envInt("TOWER_PCM_BUFFER_SIZE", &cfg.PCM.BufferFrames)
	envInt("TOWER_MP3_BUFFER_CAPACITY_FRAMES", &cfg.MP3.BufferFrames)
	envInt("TOWER_OUTPUT_TICK_INTERVAL_MS", &cfg.Broadcast.TickMS)
	envInt("TOWER_ENCODER_STALL_THRESHOLD_MS", &cfg.Encoder.StallThresholdMS)
	envBool("TOWER_ENCODER_ENABLED", &cfg.Encoder.Enabled)
	envString("TOWER_SILENCE_MP3_PATH", &cfg.Fallback.SilenceMP3Path)
	envInt("TOWER_CLIENT_TIMEOUT_MS", &cfg.Broadcast.ClientTimeoutMS)
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

func envBool(name string, out *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*out = b
		}
	}
}

// Validate rejects values the audio path cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.PCM.SocketPath == "" {
		return fmt.Errorf("pcm.socket_path must not be empty")
	}
	if c.PCM.BufferFrames < 1 {
		return fmt.Errorf("pcm.buffer_frames must be at least 1, got %d", c.PCM.BufferFrames)
	}
	if c.MP3.BufferFrames < 1 {
		return fmt.Errorf("mp3.buffer_frames must be at least 1, got %d", c.MP3.BufferFrames)
	}
	if c.Encoder.BitrateKbps < 32 || c.Encoder.BitrateKbps > 320 {
		return fmt.Errorf("encoder.bitrate_kbps %d outside 32-320", c.Encoder.BitrateKbps)
	}
	if c.Encoder.StallThresholdMS < 100 {
		return fmt.Errorf("encoder.stall_threshold_ms %d too low (min 100)", c.Encoder.StallThresholdMS)
	}
	if c.Broadcast.TickMS < 1 {
		return fmt.Errorf("broadcast.tick_ms must be at least 1, got %d", c.Broadcast.TickMS)
	}
	if c.Broadcast.ClientTimeoutMS < 1 {
		return fmt.Errorf("broadcast.client_timeout_ms must be at least 1, got %d", c.Broadcast.ClientTimeoutMS)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker required when mqtt.enabled")
	}
	return nil
}
