// Package config loads the layout-affecting and ambient configuration for a
// reading session, the way fbc's config package loads conversion settings:
// a yaml-tagged struct tree with explicit defaults and validation, prepared
// once at startup and carried on state.RenderContext afterward.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Viewport is the rendering surface's content area, in device pixels.
type Viewport struct {
	WidthPx  int `yaml:"width_px" `
	HeightPx int `yaml:"height_px"`
}

// Typography drives LayoutEngine behavior that isn't itself part of the CSS
// cascade (§4.6).
type Typography struct {
	FirstLineIndentPx      float32 `yaml:"first_line_indent_px"`
	SuppressIndentAfterH   bool    `yaml:"suppress_indent_after_heading"`
	WidowOrphanMinLines    int     `yaml:"widow_orphan_min_lines"`
	HangingPunctuation     bool    `yaml:"hanging_punctuation"`
	AutoHyphenate          bool    `yaml:"auto_hyphenate"`
	DefaultFontSizePx      float32 `yaml:"default_font_size_px"`
	DefaultLineHeightMult  float32 `yaml:"default_line_height_multiplier"`
}

// FontPolicy configures FontResolver (§4.7).
type FontPolicy struct {
	PreferredFamilies  []string `yaml:"preferred_families"`
	AllowEmbeddedFonts bool     `yaml:"allow_embedded_fonts"`
	SyntheticBold      bool     `yaml:"synthetic_bold"`
	SyntheticItalic    bool     `yaml:"synthetic_italic"`
	MaxFaceBytes       int64    `yaml:"max_face_bytes"`
	BuiltinFamily      string   `yaml:"builtin_family"`
}

// Limits are the configurable caps from §3/§5 (all optional — zero means
// "use the package default," not "no limit").
type Limits struct {
	MaxManifestItems     int   `yaml:"max_manifest_items"`
	MaxSpineItems        int   `yaml:"max_spine_items"`
	MaxFilenameLen       int   `yaml:"max_filename_len"`
	MaxElementStackDepth int   `yaml:"max_element_stack_depth"`
	MaxZipEntries        int   `yaml:"max_zip_entries"`
	MaxZipUncompressed   int64 `yaml:"max_zip_uncompressed_bytes"`
	StreamChunkBytes     int   `yaml:"stream_chunk_bytes"`
}

// LoggerConfig configures one logging sink, mirroring fbc's
// config.LoggerConfig (level, destination, append/overwrite mode).
type LoggerConfig struct {
	Level       string `yaml:"level"`
	Destination string `yaml:"destination,omitempty"`
	Mode        string `yaml:"mode,omitempty"`
}

// LoggingConfig holds both console and file sinks, prepared together into a
// single *zap.Logger by Prepare (see logger.go).
type LoggingConfig struct {
	Console LoggerConfig `yaml:"console"`
	File    LoggerConfig `yaml:"file"`
}

// Config is the top-level, yaml-loadable session configuration.
type Config struct {
	Viewport   Viewport      `yaml:"viewport"`
	Typography Typography    `yaml:"typography"`
	Fonts      FontPolicy    `yaml:"fonts"`
	Limits     Limits        `yaml:"limits"`
	Logging    LoggingConfig `yaml:"logging"`
}

// Default returns the built-in configuration used when no file is supplied,
// sized for an embedded e-ink reader (§5 default streaming chunk: 4 KB).
func Default() *Config {
	return &Config{
		Viewport: Viewport{WidthPx: 600, HeightPx: 800},
		Typography: Typography{
			FirstLineIndentPx:     24,
			SuppressIndentAfterH:  true,
			WidowOrphanMinLines:   2,
			HangingPunctuation:    false,
			AutoHyphenate:         true,
			DefaultFontSizePx:     18,
			DefaultLineHeightMult: 1.3,
		},
		Fonts: FontPolicy{
			PreferredFamilies:  []string{"Serif"},
			AllowEmbeddedFonts: true,
			SyntheticBold:      true,
			SyntheticItalic:    true,
			MaxFaceBytes:       8 << 20,
			BuiltinFamily:      "Built-in Serif",
		},
		Limits: Limits{
			MaxManifestItems:     1024,
			MaxSpineItems:        256,
			MaxFilenameLen:       512,
			MaxElementStackDepth: 256,
			MaxZipEntries:        4096,
			MaxZipUncompressed:   256 << 20,
			StreamChunkBytes:     4096,
		},
		Logging: LoggingConfig{
			Console: LoggerConfig{Level: "normal"},
		},
	}
}

// Validate checks invariants Prepare/LoadConfiguration can't express via
// yaml tags alone.
func (c *Config) Validate() error {
	if c.Viewport.WidthPx <= 0 || c.Viewport.HeightPx <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Viewport.WidthPx, c.Viewport.HeightPx)
	}
	if c.Limits.MaxManifestItems <= 0 || c.Limits.MaxManifestItems > 1024 {
		return fmt.Errorf("max_manifest_items must be in (0, 1024], got %d", c.Limits.MaxManifestItems)
	}
	if c.Limits.MaxSpineItems <= 0 || c.Limits.MaxSpineItems > 256 {
		return fmt.Errorf("max_spine_items must be in (0, 256], got %d", c.Limits.MaxSpineItems)
	}
	if c.Limits.MaxElementStackDepth <= 0 {
		return fmt.Errorf("max_element_stack_depth must be positive")
	}
	switch c.Logging.Console.Level {
	case "", "none", "normal", "debug":
	default:
		return fmt.Errorf("logging.console.level: unsupported value %q", c.Logging.Console.Level)
	}
	return nil
}

// LoadConfiguration reads and validates a yaml configuration file, falling
// back to Default when path is empty (mirrors fbc's "no config: use
// defaults" behavior in cmd/fbc/main.go).
func LoadConfiguration(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read configuration: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Dump renders cfg back to yaml, the way fbc's config.Dump does for debug
// reports, so the effective configuration can be echoed.
func Dump(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
