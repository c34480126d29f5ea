// Package config holds the viewer's settings: defaults, an optional YAML
// file, and validation shared by both entry points.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/raster"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"gopkg.in/yaml.v3"
)

// Frame encodings understood by the viewer transport
const (
	EncodingJPEG = "jpeg"
	EncodingPNG  = "png"
)

// Config is the complete viewer configuration
type Config struct {
	Scene    string              `yaml:"scene"`    // trained scene directory; empty serves the demo scene
	Snapshot int                 `yaml:"snapshot"` // iteration to load; 0 picks the latest
	Port     int                 `yaml:"port"`
	Render   renderer.Intrinsics `yaml:"render"`
	Raster   RasterConfig        `yaml:"raster"`
	Loop     LoopConfig          `yaml:"loop"`
	Stream   StreamConfig        `yaml:"stream"`
}

// RasterConfig configures the CPU rasterization backend
type RasterConfig struct {
	TileSize   int `yaml:"tileSize"`
	NumWorkers int `yaml:"workers"` // 0 = one per CPU
}

// LoopConfig configures the update loop
type LoopConfig struct {
	TickInterval           time.Duration `yaml:"tick"`
	MaxConsecutiveFailures int           `yaml:"maxFailures"`
	Background             [3]float64    `yaml:"background"`
}

// StreamConfig configures how frames reach viewers
type StreamConfig struct {
	Encoding       string `yaml:"encoding"` // jpeg or png
	JPEGQuality    int    `yaml:"jpegQuality"`
	WatchSnapshots bool   `yaml:"watchSnapshots"`
}

// Default returns the built-in configuration
func Default() Config {
	backend := raster.DefaultConfig()
	return Config{
		Port:   8080,
		Render: renderer.DefaultIntrinsics(),
		Raster: RasterConfig{
			TileSize:   backend.TileSize,
			NumWorkers: backend.NumWorkers,
		},
		Loop: LoopConfig{
			TickInterval:           time.Second / 60,
			MaxConsecutiveFailures: 3,
		},
		Stream: StreamConfig{
			Encoding:       EncodingJPEG,
			JPEGQuality:    85,
			WatchSnapshots: true,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	return Read(file)
}

// Read decodes YAML over the defaults and validates the result. Unknown keys
// are rejected.
func Read(r io.Reader) (Config, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every setting against its allowed range
func (c Config) Validate() error {
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d: %w", c.Port, core.ErrInvalidParameter)
	}
	if c.Snapshot < 0 {
		return fmt.Errorf("snapshot must not be negative, got %d: %w", c.Snapshot, core.ErrInvalidParameter)
	}
	if c.Raster.TileSize <= 0 {
		return fmt.Errorf("raster tile size must be positive, got %d: %w", c.Raster.TileSize, core.ErrInvalidParameter)
	}
	if c.Raster.NumWorkers < 0 {
		return fmt.Errorf("raster workers must not be negative, got %d: %w", c.Raster.NumWorkers, core.ErrInvalidParameter)
	}
	if c.Loop.TickInterval <= 0 {
		return fmt.Errorf("loop tick must be positive, got %s: %w", c.Loop.TickInterval, core.ErrInvalidParameter)
	}
	if c.Loop.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("loop maxFailures must be positive, got %d: %w", c.Loop.MaxConsecutiveFailures, core.ErrInvalidParameter)
	}
	for _, v := range c.Loop.Background {
		if v < 0 || v > 1 {
			return fmt.Errorf("background components must be in [0, 1], got %v: %w", c.Loop.Background, core.ErrInvalidParameter)
		}
	}
	switch c.Stream.Encoding {
	case EncodingJPEG, EncodingPNG:
	default:
		return fmt.Errorf("unknown stream encoding %q: %w", c.Stream.Encoding, core.ErrInvalidParameter)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be in 1..100, got %d: %w", c.Stream.JPEGQuality, core.ErrInvalidParameter)
	}
	return nil
}

// RasterBackend returns the CPU backend settings
func (c Config) RasterBackend() raster.Config {
	return raster.Config{
		TileSize:   c.Raster.TileSize,
		NumWorkers: c.Raster.NumWorkers,
	}
}
