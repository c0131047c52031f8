// Package config loads the bsastream service configuration from yaml
// with environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/slaclab/bsastream/internal/beamline"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Beamline  string          `mapstructure:"beamline"`
	Transport TransportConfig `mapstructure:"transport"`
	Streams   []StreamConfig  `mapstructure:"streams"`
	Pairs     []PairConfig    `mapstructure:"pairs"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port             string        `mapstructure:"port"`
	WSEnabled        bool          `mapstructure:"ws_enabled"`
	WSStreamInterval time.Duration `mapstructure:"ws_stream_interval"`
}

type TransportConfig struct {
	// Mode selects the subscription layer. Only "sim" is built in;
	// a real channel-access client plugs in behind the same interface.
	Mode string    `mapstructure:"mode"`
	Sim  SimConfig `mapstructure:"sim"`
}

type SimConfig struct {
	BeamRate  float64 `mapstructure:"beam_rate"`
	Dropout   float64 `mapstructure:"dropout"`
	Amplitude float64 `mapstructure:"amplitude"`
	Noise     float64 `mapstructure:"noise"`
	Seed      int64   `mapstructure:"seed"`
}

type StreamConfig struct {
	Name    string `mapstructure:"name"`
	Channel string `mapstructure:"channel"`
}

type PairConfig struct {
	Name string `mapstructure:"name"`
	Ch1  string `mapstructure:"ch1"`
	Ch2  string `mapstructure:"ch2"`
}

type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Server  string `mapstructure:"server"`
	Topic   string `mapstructure:"topic"`
	Token   string `mapstructure:"token"`
	// GapBurst is the missed-pulse count in one gap above which an
	// alert is sent.
	GapBurst int `mapstructure:"gap_burst"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("server.ws_stream_interval", "1s")
	v.SetDefault("beamline", "NC_HXR")
	v.SetDefault("transport.mode", "sim")
	v.SetDefault("transport.sim.beam_rate", 120.0)
	v.SetDefault("transport.sim.dropout", 0.0)
	v.SetDefault("transport.sim.amplitude", 1.0)
	v.SetDefault("transport.sim.noise", 0.05)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.gap_burst", 100)
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("BSASTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := beamline.Lookup(beamline.Beamline(c.Beamline)); err != nil {
		return fmt.Errorf("beamline %q: valid beamlines are %v", c.Beamline, beamline.All())
	}
	if c.Transport.Mode != "sim" {
		return fmt.Errorf("unknown transport mode %q (only 'sim' is built in)", c.Transport.Mode)
	}
	if c.Server.WSEnabled && c.Server.WSStreamInterval <= 0 {
		return fmt.Errorf("ws_stream_interval must be positive")
	}

	seen := make(map[string]bool)
	for _, s := range c.Streams {
		if s.Name == "" || s.Channel == "" {
			return fmt.Errorf("stream entries need both name and channel")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true
	}
	for _, p := range c.Pairs {
		if p.Name == "" || p.Ch1 == "" || p.Ch2 == "" {
			return fmt.Errorf("pair entries need name, ch1 and ch2")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pair name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
