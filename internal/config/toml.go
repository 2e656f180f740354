// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Serial SerialConfig `toml:"serial"`
	Plot   PlotConfig   `toml:"plot"`
	Sim    SimConfig    `toml:"sim"`
	Log    LogConfig    `toml:"log"`
}

// SerialConfig maps serial port settings.
type SerialConfig struct {
	Port        *string `toml:"port"`
	Baud        *int    `toml:"baud"`
	ReadTimeout *string `toml:"read-timeout"`
}

// PlotConfig maps window, decoding and chart settings.
type PlotConfig struct {
	Window     *int     `toml:"window"`
	Tick       *string  `toml:"tick"`
	Roll       *int     `toml:"roll"`
	Min        *float64 `toml:"min"`
	Max        *float64 `toml:"max"`
	AutoRange  *bool    `toml:"auto-range"`
	Height     *int     `toml:"height"`
	Parse      *string  `toml:"parse"`
	MaxPending *int     `toml:"max-pending"`
}

// SimConfig maps simulator settings.
type SimConfig struct {
	Rate  *int     `toml:"rate"`
	Noise *float64 `toml:"noise"`
	BPM   *float64 `toml:"bpm"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
	File  *string `toml:"file"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// ParseDuration parses an optional duration value. A nil value yields nil.
func ParseDuration(key string, value *string) (*time.Duration, error) {
	if value == nil {
		return nil, nil
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &d, nil
}
