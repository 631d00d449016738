// Package config loads the tlgrab YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alesr/tidslinje"
	"github.com/alesr/tidslinje/compress"
)

// Config is the complete application configuration. It is read once at
// startup.
type Config struct {
	Log          LogConfig          `yaml:"log"`
	Grabber      GrabberConfig      `yaml:"grabber"`
	Tracker      TrackerConfig      `yaml:"tracker"`
	Synchronizer SynchronizerConfig `yaml:"synchronizer"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	Exporter     ExporterConfig     `yaml:"exporter"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// GrabberConfig configures the frame producer and its timeline.
type GrabberConfig struct {
	Device           string `yaml:"device"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	Format           string `yaml:"format"` // gray8, rgb8, bgr8, rgba8, bgra8
	FPS              int    `yaml:"fps"`
	Capacity         int    `yaml:"capacity"`          // timeline pool size, frames
	ExhaustionPolicy string `yaml:"exhaustion_policy"` // drop-newest, evict-oldest
	JPEGQuality      int    `yaml:"jpeg_quality"`
	OutputDir        string `yaml:"output_dir"`
}

// TrackerConfig configures the synthetic tool tracker and its matrix timeline.
type TrackerConfig struct {
	Tools            []string `yaml:"tools"`
	RateHz           int      `yaml:"rate_hz"`
	Capacity         int      `yaml:"capacity"`
	ExhaustionPolicy string   `yaml:"exhaustion_policy"`
}

// SynchronizerConfig configures the frame/tracking matcher.
type SynchronizerConfig struct {
	ToleranceMs float64 `yaml:"tolerance_ms"`
}

// SnapshotConfig configures snapshots written from the command line.
type SnapshotConfig struct {
	Compression compress.Type `yaml:"compression"`
	OutputDir   string        `yaml:"output_dir"`
}

// ExporterConfig configures the optional remote snapshot exporter.
// The exporter is disabled when BaseURL is empty.
type ExporterConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Compression compress.Type `yaml:"compression"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the configuration used for unset values.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Grabber: GrabberConfig{
			Device:           "synthetic",
			Width:            640,
			Height:           480,
			Format:           "rgb8",
			FPS:              30,
			Capacity:         90,
			ExhaustionPolicy: "evict-oldest",
			JPEGQuality:      85,
			OutputDir:        "out",
		},
		Tracker: TrackerConfig{
			Tools:            []string{"pointer", "stylus"},
			RateHz:           60,
			Capacity:         180,
			ExhaustionPolicy: "evict-oldest",
		},
		Synchronizer: SynchronizerConfig{ToleranceMs: 20},
		Snapshot:     SnapshotConfig{Compression: compress.Zstd, OutputDir: "out"},
		Exporter:     ExporterConfig{Compression: compress.Zstd, Timeout: 5 * time.Second},
	}
}

// Load reads the YAML file at path over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", f))
	}

	g := c.Grabber
	if g.Width <= 0 || g.Height <= 0 {
		errs = append(errs, fmt.Errorf("grabber size must be positive, got %dx%d", g.Width, g.Height))
	}
	if _, err := tidslinje.ParsePixelFormat(g.Format); err != nil {
		errs = append(errs, fmt.Errorf("grabber.format: %w", err))
	}
	if g.FPS <= 0 {
		errs = append(errs, errors.New("grabber.fps must be > 0"))
	}
	if g.Capacity <= 0 {
		errs = append(errs, errors.New("grabber.capacity must be > 0"))
	}
	if _, err := ParseExhaustionPolicy(g.ExhaustionPolicy); err != nil {
		errs = append(errs, fmt.Errorf("grabber.exhaustion_policy: %w", err))
	}
	if g.JPEGQuality < 1 || g.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("grabber.jpeg_quality must be in [1, 100], got %d", g.JPEGQuality))
	}

	tr := c.Tracker
	if len(tr.Tools) == 0 || len(tr.Tools) > tidslinje.MaxElementNum {
		errs = append(errs, fmt.Errorf("tracker.tools must list 1 to %d tools, got %d", tidslinje.MaxElementNum, len(tr.Tools)))
	}
	if tr.RateHz <= 0 {
		errs = append(errs, errors.New("tracker.rate_hz must be > 0"))
	}
	if tr.Capacity <= 0 {
		errs = append(errs, errors.New("tracker.capacity must be > 0"))
	}
	if _, err := ParseExhaustionPolicy(tr.ExhaustionPolicy); err != nil {
		errs = append(errs, fmt.Errorf("tracker.exhaustion_policy: %w", err))
	}

	if c.Synchronizer.ToleranceMs < 0 {
		errs = append(errs, errors.New("synchronizer.tolerance_ms must be >= 0"))
	}
	if c.Exporter.BaseURL != "" && c.Exporter.Timeout <= 0 {
		errs = append(errs, errors.New("exporter.timeout must be > 0"))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the logger described by l.
func (l LogConfig) NewLogger() (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// ParseExhaustionPolicy parses a policy name as printed by
// tidslinje.ExhaustionPolicy.String.
func ParseExhaustionPolicy(s string) (tidslinje.ExhaustionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", tidslinje.DropNewest.String():
		return tidslinje.DropNewest, nil
	case tidslinje.EvictOldest.String():
		return tidslinje.EvictOldest, nil
	default:
		return 0, fmt.Errorf("unknown exhaustion policy %q", s)
	}
}
