package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	Listen   string `yaml:"listen,omitempty"`
}

// ChannelConfig describes one transport. Settings are decoded by the driver.
type ChannelConfig struct {
	ID        string     `yaml:"id"`
	Driver    string     `yaml:"driver"`
	ChannelID *int32     `yaml:"channel_id,omitempty"`
	Settings  *yaml.Node `yaml:"settings,omitempty"`
	Source    string     `yaml:"-"`
}

// DecodeSettings decodes the driver settings into target. Missing settings
// leave target untouched.
func (c ChannelConfig) DecodeSettings(target any) error {
	if c.Settings == nil || c.Settings.Kind == 0 {
		return nil
	}
	if err := c.Settings.Decode(target); err != nil {
		return fmt.Errorf("channel %s: decode %s settings: %w", c.ID, c.Driver, err)
	}
	return nil
}

// BridgeConfig forwards bytes between two channels.
type BridgeConfig struct {
	From     string   `yaml:"from"`
	To       string   `yaml:"to"`
	Buffer   int      `yaml:"buffer,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

// BufferSize returns the configured read buffer size.
func (b BridgeConfig) BufferSize() int {
	if b.Buffer <= 0 {
		return 256
	}
	return b.Buffer
}

// PollInterval returns the idle poll interval.
func (b BridgeConfig) PollInterval() time.Duration {
	if b.Interval.Duration <= 0 {
		return 10 * time.Millisecond
	}
	return b.Interval.Duration
}

// Config is the root configuration structure.
type Config struct {
	Name      string          `yaml:"name,omitempty"`
	Include   []string        `yaml:"include,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Channels  []ChannelConfig `yaml:"channels"`
	Bridges   []BridgeConfig  `yaml:"bridges"`
	Source    string          `yaml:"-"`
}

// Load reads and decodes the configuration file from disk, following include
// entries.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := loadFile(abs, make(map[string]struct{}))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	cfg.Source = path
	for i := range cfg.Channels {
		cfg.Channels[i].Source = path
	}

	baseDir := filepath.Dir(path)
	for _, include := range cfg.Include {
		include = strings.TrimSpace(include)
		if include == "" {
			continue
		}
		if !filepath.IsAbs(include) {
			include = filepath.Join(baseDir, include)
		}
		child, err := loadFile(filepath.Clean(include), visited)
		if err != nil {
			return nil, err
		}
		cfg.Channels = append(cfg.Channels, child.Channels...)
		cfg.Bridges = append(cfg.Bridges, child.Bridges...)
	}
	return &cfg, nil
}

// Validate checks identifiers and bridge references.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	seen := make(map[string]string, len(c.Channels))
	for _, ch := range c.Channels {
		id := strings.TrimSpace(ch.ID)
		if id == "" {
			return fmt.Errorf("channel id must not be empty (%s)", ch.Source)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("duplicate channel id %q (%s, %s)", id, prev, ch.Source)
		}
		seen[id] = ch.Source
		if strings.TrimSpace(ch.Driver) == "" {
			return fmt.Errorf("channel %s: driver must not be empty", id)
		}
	}
	for i, br := range c.Bridges {
		if _, ok := seen[br.From]; !ok {
			return fmt.Errorf("bridge %d: unknown channel %q", i, br.From)
		}
		if _, ok := seen[br.To]; !ok {
			return fmt.Errorf("bridge %d: unknown channel %q", i, br.To)
		}
		if br.From == br.To {
			return fmt.Errorf("bridge %d: channel %q bridged to itself", i, br.From)
		}
	}
	return nil
}

// Channel returns the channel configuration with the given id.
func (c *Config) Channel(id string) (ChannelConfig, bool) {
	if c == nil {
		return ChannelConfig{}, false
	}
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
