package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LEDConfig describes the LED strip wiring.
// Type selects a concrete implementation ("blinkt" or "mock").
type LEDConfig struct {
	Type      string `yaml:"type"`       // e.g., "blinkt"
	DataPin   int    `yaml:"data_pin"`   // APA102 data line (BCM), Blinkt uses 23
	ClockPin  int    `yaml:"clock_pin"`  // APA102 clock line (BCM), Blinkt uses 24
	NumPixels int    `yaml:"num_pixels"` // pixel count of the strip
	TickMs    int    `yaml:"tick_ms"`    // delay between animation frames (ms)
}

// CameraConfig describes how frames are captured.
// Type selects a concrete implementation ("libcamera", "raspistill" or "mock").
type CameraConfig struct {
	Type      string `yaml:"type"`
	Command   string `yaml:"command,omitempty"` // optional override of the capture binary
	WidthPx   int    `yaml:"width_px"`
	HeightPx  int    `yaml:"height_px"`
	WarmupMs  int    `yaml:"warmup_ms"`  // sensor warm-up after opening a session
	TimeoutMs int    `yaml:"timeout_ms"` // upper bound for one capture
}

// StorageConfig describes where images live and how the gallery pages them.
type StorageConfig struct {
	ImagesDir string `yaml:"images_dir"`
	PerPage   int    `yaml:"per_page"`
	PerRow    int    `yaml:"per_row"`
}

// DefaultsConfig holds the initial run parameters shown in the form.
type DefaultsConfig struct {
	RainbowSeconds  int    `yaml:"rainbow_seconds"`  // light show duration
	IntervalSeconds int    `yaml:"interval_seconds"` // time-lapse interval
	SeriesName      string `yaml:"series_name"`      // time-lapse series (sub directory)
	DebugLevel      int    `yaml:"debug_level"`      // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO        bool   `yaml:"mock_gpio"`        // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// WebConfig holds HTTP server settings.
type WebConfig struct {
	Port           int      `yaml:"port"`
	RateLimit      float64  `yaml:"rate_limit"` // trigger requests per second
	RateBurst      int      `yaml:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"` // websocket origins, empty = same host only
	TrustProxy     bool     `yaml:"trust_proxy"`     // client IP from X-Forwarded-For (behind a reverse proxy only)
}

// ScheduleConfig is one cron entry, e.g. {spec: "0 7 * * *", command: "rainbow 10"}.
type ScheduleConfig struct {
	Spec    string `yaml:"spec"`
	Command string `yaml:"command"`
}

// Config aggregates all application configuration.
type Config struct {
	LED       LEDConfig        `yaml:"led"`
	Camera    CameraConfig     `yaml:"camera"`
	Storage   StorageConfig    `yaml:"storage"`
	Defaults  DefaultsConfig   `yaml:"defaults"`
	Web       WebConfig        `yaml:"web"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// ValidateConfigPath checks that path points to a .yaml file inside a
// "configs" directory and does not try to escape it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, using the
// mock LED strip and camera.
func Default() *Config {
	cfg := &Config{
		LED:      LEDConfig{Type: "mock"},
		Camera:   CameraConfig{Type: "mock"},
		Defaults: DefaultsConfig{MockGPIO: true},
	}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.LED.Type = strings.TrimSpace(c.LED.Type)
	if c.LED.Type == "" {
		c.LED.Type = "blinkt"
	}
	if c.LED.DataPin <= 0 {
		c.LED.DataPin = 23 // Blinkt DAT
	}
	if c.LED.ClockPin <= 0 {
		c.LED.ClockPin = 24 // Blinkt CLK
	}
	if c.LED.NumPixels <= 0 {
		c.LED.NumPixels = 8
	}
	if c.LED.TickMs <= 0 {
		c.LED.TickMs = 5 // ~200 frames per second
	}

	c.Camera.Type = strings.TrimSpace(c.Camera.Type)
	if c.Camera.Type == "" {
		c.Camera.Type = "libcamera"
	}
	if c.Camera.WidthPx <= 0 {
		c.Camera.WidthPx = 1920
	}
	if c.Camera.HeightPx <= 0 {
		c.Camera.HeightPx = 1080
	}
	if c.Camera.WarmupMs < 0 {
		c.Camera.WarmupMs = 0
	}
	if c.Camera.WarmupMs == 0 {
		c.Camera.WarmupMs = 1000 // camera warm-up time
	}
	if c.Camera.TimeoutMs <= 0 {
		c.Camera.TimeoutMs = 10000
	}

	if strings.TrimSpace(c.Storage.ImagesDir) == "" {
		c.Storage.ImagesDir = "images"
	}
	if c.Storage.PerPage <= 0 {
		c.Storage.PerPage = 9
	}
	if c.Storage.PerRow <= 0 {
		c.Storage.PerRow = 3
	}

	if c.Defaults.RainbowSeconds <= 0 {
		c.Defaults.RainbowSeconds = 5
	}
	if c.Defaults.IntervalSeconds <= 0 {
		c.Defaults.IntervalSeconds = 5
	}
	if strings.TrimSpace(c.Defaults.SeriesName) == "" {
		c.Defaults.SeriesName = "default"
	}

	if c.Web.Port == 0 {
		c.Web.Port = 5000
	}
	if c.Web.RateLimit == 0 {
		c.Web.RateLimit = 2
	}
	if c.Web.RateBurst <= 0 {
		c.Web.RateBurst = 5
	}
}

func (c *Config) validate() error {
	switch c.LED.Type {
	case "blinkt", "mock":
	default:
		return fmt.Errorf("led.type must be \"blinkt\" or \"mock\", got %q", c.LED.Type)
	}
	if c.LED.DataPin == c.LED.ClockPin {
		return fmt.Errorf("led.data_pin and led.clock_pin must differ, both are %d", c.LED.DataPin)
	}
	switch c.Camera.Type {
	case "libcamera", "raspistill", "mock":
	default:
		return fmt.Errorf("camera.type must be \"libcamera\", \"raspistill\" or \"mock\", got %q", c.Camera.Type)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 0-65535, got %d", c.Web.Port)
	}
	if c.Web.RateLimit < 0 {
		return fmt.Errorf("web.rate_limit must be positive, got %.2f", c.Web.RateLimit)
	}
	if strings.ContainsAny(c.Defaults.SeriesName, `/\`) || c.Defaults.SeriesName == ".." {
		return fmt.Errorf("defaults.series_name %q must be a plain directory name", c.Defaults.SeriesName)
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Spec) == "" || strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("schedules[%d]: spec and command are required", i)
		}
	}
	return nil
}

// TickInterval returns the delay between two animation frames.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.LED.TickMs) * time.Millisecond
}

// Warmup returns the camera warm-up duration.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.Camera.WarmupMs) * time.Millisecond
}

// CaptureTimeout returns the upper bound for one capture.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}
