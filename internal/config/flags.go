package config

import (
	"flag"
	"fmt"
)

var (
	flagConfig      = flag.String("config", "", "Path to config file")
	flagDebug       = flag.Bool("debug", false, "Enable debug logging, on-screen stats and cache audits")
	flagURL         = flag.String("url", "", "Model URL or path (.nxs/.nxz)")
	flagCacheSize   = flag.String("cache-size", "", "Resident geometry ceiling, e.g. \"256 MiB\"")
	flagTargetError = flag.Float64("target-error", 0, "Target screen-space error in pixels")
	flagMetrics     = flag.String("metrics", "", "Prometheus listen address, e.g. :9100")
	flagWindowed    = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen  = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth       = flag.Int("width", 0, "Window width")
	flagHeight      = flag.Int("height", 0, "Window height")
)

// ParseFlags parses command-line flags. Call this early in main().
// A single positional argument is taken as the model URL.
func ParseFlags() {
	flag.Parse()
	if *flagURL == "" && flag.NArg() > 0 {
		*flagURL = flag.Arg(0)
	}
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) error {
	if *flagDebug {
		cfg.Logging.Level = "debug"
		cfg.Graphics.ShowStats = true
		cfg.Streaming.Audit = true
	}
	if *flagURL != "" {
		cfg.Source.URL = *flagURL
	}
	if *flagCacheSize != "" {
		n, err := ParseByteSize(*flagCacheSize)
		if err != nil {
			return fmt.Errorf("-cache-size: %w", err)
		}
		cfg.Streaming.CacheSize = n
	}
	if *flagTargetError > 0 {
		cfg.Streaming.TargetError = float32(*flagTargetError)
	}
	if *flagMetrics != "" {
		cfg.Metrics.Listen = *flagMetrics
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
	return nil
}
