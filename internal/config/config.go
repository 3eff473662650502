// Package config loads vidnote settings from the global and project config
// files, then applies environment and flag overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/fakeyudi/vidnote/internal/playback"
)

// Store backends.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Config holds all configurable vidnote settings.
type Config struct {
	TickInterval          Duration `json:"tick_interval"`
	RecalibrationInterval Duration `json:"recalibration_interval"`
	DisplayDuration       Duration `json:"display_duration"` // annotation pause length
	CountdownStep         Duration `json:"countdown_step"`
	FuzzyTolerance        Duration `json:"fuzzy_tolerance"`
	SeekStep              Duration `json:"seek_step"`
	PauseOnAnnotation     *bool    `json:"pause_on_annotation,omitempty"`
	Autoplay              *bool    `json:"autoplay,omitempty"`
	Store                 string   `json:"store"`    // "json" | "sqlite"
	DataDir               string   `json:"data_dir"` // empty: XDG data dir
	LogLevel              string   `json:"log_level"`
	DefaultFormat         string   `json:"default_format"` // "markdown" | "json" | "yaml"
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	on := true
	return Config{
		TickInterval:          Duration(50 * time.Millisecond),
		RecalibrationInterval: Duration(2500 * time.Millisecond),
		DisplayDuration:       Duration(3000 * time.Millisecond),
		CountdownStep:         Duration(50 * time.Millisecond),
		FuzzyTolerance:        Duration(500 * time.Millisecond),
		SeekStep:              Duration(5 * time.Second),
		PauseOnAnnotation:     &on,
		Autoplay:              &on,
		Store:                 StoreJSON,
		LogLevel:              "info",
		DefaultFormat:         "markdown",
	}
}

// Dir returns the vidnote config directory, ~/.config/vidnote.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vidnote"), nil
}

// LoadGlobal reads ~/.config/vidnote/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return loadFile(filepath.Join(dir, "config.json"), true)
}

// LoadProject reads .vidnoteconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".vidnoteconfig", false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	if global != nil {
		overlay(&result, global)
	}
	if project != nil {
		overlay(&result, project)
	}
	return result
}

// overlay copies every set field of src over dst.
func overlay(dst, src *Config) {
	durations := []struct{ dst, src *Duration }{
		{&dst.TickInterval, &src.TickInterval},
		{&dst.RecalibrationInterval, &src.RecalibrationInterval},
		{&dst.DisplayDuration, &src.DisplayDuration},
		{&dst.CountdownStep, &src.CountdownStep},
		{&dst.FuzzyTolerance, &src.FuzzyTolerance},
		{&dst.SeekStep, &src.SeekStep},
	}
	for _, d := range durations {
		if *d.src != 0 {
			*d.dst = *d.src
		}
	}
	if src.PauseOnAnnotation != nil {
		dst.PauseOnAnnotation = src.PauseOnAnnotation
	}
	if src.Autoplay != nil {
		dst.Autoplay = src.Autoplay
	}
	if src.Store != "" {
		dst.Store = src.Store
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.DefaultFormat != "" {
		dst.DefaultFormat = src.DefaultFormat
	}
}

// NewViper returns a viper instance reading VIDNOTE_* environment variables,
// e.g. VIDNOTE_STORE=sqlite or VIDNOTE_DISPLAY_DURATION=5s. Flags bound to
// it with BindPFlag take precedence over the environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("vidnote")
	v.AutomaticEnv()
	return v
}

// ApplyOverrides returns c with every key set in v applied on top.
func ApplyOverrides(c Config, v *viper.Viper) (Config, error) {
	durations := map[string]*Duration{
		"tick_interval":          &c.TickInterval,
		"recalibration_interval": &c.RecalibrationInterval,
		"display_duration":       &c.DisplayDuration,
		"countdown_step":         &c.CountdownStep,
		"fuzzy_tolerance":        &c.FuzzyTolerance,
		"seek_step":              &c.SeekStep,
	}
	for key, dst := range durations {
		if !v.IsSet(key) {
			continue
		}
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return c, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = Duration(d)
	}
	if v.IsSet("pause_on_annotation") {
		b := v.GetBool("pause_on_annotation")
		c.PauseOnAnnotation = &b
	}
	if v.IsSet("autoplay") {
		b := v.GetBool("autoplay")
		c.Autoplay = &b
	}
	strs := map[string]*string{
		"store":          &c.Store,
		"data_dir":       &c.DataDir,
		"log_level":      &c.LogLevel,
		"default_format": &c.DefaultFormat,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	return c, c.Validate()
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch c.Store {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q (want %q or %q)", c.Store, StoreJSON, StoreSQLite)
	}
	switch c.DefaultFormat {
	case "markdown", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q", c.DefaultFormat)
	}
	if c.TickInterval <= 0 || c.RecalibrationInterval <= 0 || c.CountdownStep <= 0 || c.DisplayDuration <= 0 {
		return errors.New("intervals and durations must be positive")
	}
	if c.FuzzyTolerance < 0 || c.SeekStep < 0 {
		return errors.New("fuzzy tolerance and seek step must not be negative")
	}
	return nil
}

// Playback returns the state machine tuning described by c.
func (c Config) Playback() playback.Config {
	p := playback.Config{
		DisplayDuration:   time.Duration(c.DisplayDuration),
		CountdownStep:     time.Duration(c.CountdownStep),
		PauseOnAnnotation: true,
		Autoplay:          true,
		FuzzyTolerance:    uint64(time.Duration(c.FuzzyTolerance).Milliseconds()),
	}
	if c.PauseOnAnnotation != nil {
		p.PauseOnAnnotation = *c.PauseOnAnnotation
	}
	if c.Autoplay != nil {
		p.Autoplay = *c.Autoplay
	}
	return p
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
