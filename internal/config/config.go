// Package config handles viewer and streaming configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds all nxstream settings.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Streaming StreamingConfig `yaml:"streaming"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Graphics  GraphicsConfig  `yaml:"graphics"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourceConfig names the model to open.
type SourceConfig struct {
	URL string `yaml:"url"` // http(s) URL or local path of a .nxs/.nxz file
}

// StreamingConfig holds the traversal and cache tunables.
type StreamingConfig struct {
	TargetError   float32  `yaml:"target_error"` // pixels
	MaxError      float32  `yaml:"max_error"`
	MinFPS        float32  `yaml:"min_fps"`
	CacheSize     ByteSize `yaml:"cache_size"`
	DrawBudget    float32  `yaml:"draw_budget"` // weighted vertices per frame
	MaxPending    int      `yaml:"max_pending"`
	MaxBlocked    int      `yaml:"max_blocked"`
	MaxCandidates int      `yaml:"max_candidates"`
	MaxRetries    int      `yaml:"max_retries"`
	DecodeWorkers int      `yaml:"decode_workers"`
	Audit         bool     `yaml:"audit"` // verify cache accounting every frame
}

// FetchConfig holds transport settings.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RetryMin  time.Duration `yaml:"retry_min"`
	RetryMax  time.Duration `yaml:"retry_max"`
	DiskCache string        `yaml:"disk_cache"` // directory; empty disables
}

// GraphicsConfig holds display and rendering settings.
type GraphicsConfig struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Fullscreen bool    `yaml:"fullscreen"`
	VSync      bool    `yaml:"vsync"`
	FOV        float32 `yaml:"fov"` // vertical, degrees
	ShowStats  bool    `yaml:"show_stats"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9100"; empty disables
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Streaming: StreamingConfig{
			TargetError:   2,
			MaxError:      15,
			MinFPS:        15,
			CacheSize:     512 * humanize.MiByte,
			DrawBudget:    5 * (1 << 20),
			MaxPending:    3,
			MaxBlocked:    30,
			MaxCandidates: 20,
			MaxRetries:    2,
			DecodeWorkers: 2,
		},
		Fetch: FetchConfig{
			Timeout:  30 * time.Second,
			RetryMin: 100 * time.Millisecond,
			RetryMax: 5 * time.Second,
		},
		Graphics: GraphicsConfig{
			Width:  1280,
			Height: 720,
			VSync:  true,
			FOV:    45,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	s := c.Streaming
	switch {
	case s.TargetError <= 0:
		return fmt.Errorf("streaming.target_error must be positive, got %v", s.TargetError)
	case s.MaxError < s.TargetError:
		return fmt.Errorf("streaming.max_error (%v) below target_error (%v)", s.MaxError, s.TargetError)
	case s.MinFPS <= 0:
		return fmt.Errorf("streaming.min_fps must be positive, got %v", s.MinFPS)
	case s.MaxPending < 1:
		return fmt.Errorf("streaming.max_pending must be at least 1, got %d", s.MaxPending)
	case s.MaxBlocked < 1:
		return fmt.Errorf("streaming.max_blocked must be at least 1, got %d", s.MaxBlocked)
	case s.MaxCandidates < 1:
		return fmt.Errorf("streaming.max_candidates must be at least 1, got %d", s.MaxCandidates)
	case s.MaxRetries < 0:
		return fmt.Errorf("streaming.max_retries must not be negative, got %d", s.MaxRetries)
	case s.DecodeWorkers < 1:
		return fmt.Errorf("streaming.decode_workers must be at least 1, got %d", s.DecodeWorkers)
	case s.DrawBudget <= 0:
		return fmt.Errorf("streaming.draw_budget must be positive, got %v", s.DrawBudget)
	}
	if c.Fetch.RetryMax < c.Fetch.RetryMin {
		return errors.New("fetch.retry_max below fetch.retry_min")
	}
	if c.Graphics.Width <= 0 || c.Graphics.Height <= 0 {
		return fmt.Errorf("graphics size %dx%d is invalid", c.Graphics.Width, c.Graphics.Height)
	}
	return nil
}

// ByteSize is a byte count that reads "512 MiB" style strings as well as plain integers.
type ByteSize uint64

// ParseByteSize parses a humanized byte count.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", value.Line)
	}
	n, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = n
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}
