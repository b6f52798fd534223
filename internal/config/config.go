package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPSD      GPSDConfig      `yaml:"gpsd"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Elevation ElevationConfig `yaml:"elevation"`
	Web       WebConfig       `yaml:"web"`
	UDP       UDPConfig       `yaml:"udp"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

type GPSDConfig struct {
	Addr string `yaml:"addr"`
}

type ArbiterConfig struct {
	// PreferredDevice, when set, always wins arbitration while it holds a fix.
	PreferredDevice string        `yaml:"preferred_device"`
	UpdateTimeout   time.Duration `yaml:"update_timeout"`
	FixTimeout      time.Duration `yaml:"fix_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type ElevationConfig struct {
	Enable          bool          `yaml:"enable"`
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	PrefetchRadiusM float64       `yaml:"prefetch_radius_m"`
	CachePath       string        `yaml:"cache_path"`
	Persist         bool          `yaml:"persist"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg.GPSD.Addr == "" {
		cfg.GPSD.Addr = "127.0.0.1:2947"
	}

	if cfg.Arbiter.UpdateTimeout < 0 || cfg.Arbiter.FixTimeout < 0 {
		return fmt.Errorf("arbiter timeouts must be >= 0")
	}
	// An explicit zero disables a timeout policy; a fully absent arbiter
	// section gets the 120 s defaults.
	if cfg.Arbiter.UpdateTimeout == 0 && cfg.Arbiter.FixTimeout == 0 && cfg.Arbiter.SweepInterval == 0 {
		cfg.Arbiter.UpdateTimeout = 120 * time.Second
		cfg.Arbiter.FixTimeout = 120 * time.Second
	}
	if cfg.Arbiter.SweepInterval <= 0 {
		cfg.Arbiter.SweepInterval = 5 * time.Second
	}

	if cfg.Elevation.Enable {
		if cfg.Elevation.Timeout <= 0 {
			cfg.Elevation.Timeout = 10 * time.Second
		}
		if cfg.Elevation.PrefetchRadiusM < 0 {
			return fmt.Errorf("elevation.prefetch_radius_m must be >= 0")
		}
		if cfg.Elevation.PrefetchRadiusM == 0 {
			cfg.Elevation.PrefetchRadiusM = 100
		}
		if cfg.Elevation.Persist && cfg.Elevation.CachePath == "" {
			return fmt.Errorf("elevation.cache_path is required when elevation.persist is true")
		}
	}

	if cfg.Web.Enable && cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.UDP.Enable && cfg.UDP.Dest == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "gps-arbiter"
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "gps/position"
		}
	}

	return nil
}
