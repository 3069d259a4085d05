package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadChannelsAndBridges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `name: lobby
logging:
  level: debug
  format: text
channels:
  - id: door-7
    driver: serial
    channel_id: 7
    settings:
      address: /dev/ttyUSB0
      baud_rate: 115200
  - id: panel
    driver: tcp
    settings:
      address: 10.0.0.2:4001
bridges:
  - from: door-7
    to: panel
    buffer: 512
    interval: 5ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "lobby", cfg.Name)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Channels, 2)
	require.NotNil(t, cfg.Channels[0].ChannelID)
	require.Equal(t, int32(7), *cfg.Channels[0].ChannelID)
	require.Nil(t, cfg.Channels[1].ChannelID)
	require.Equal(t, path, cfg.Channels[0].Source)

	var serial struct {
		Address  string `yaml:"address"`
		BaudRate int    `yaml:"baud_rate"`
	}
	require.NoError(t, cfg.Channels[0].DecodeSettings(&serial))
	require.Equal(t, "/dev/ttyUSB0", serial.Address)
	require.Equal(t, 115200, serial.BaudRate)

	require.Len(t, cfg.Bridges, 1)
	require.Equal(t, 512, cfg.Bridges[0].BufferSize())
	require.Equal(t, 5*time.Millisecond, cfg.Bridges[0].PollInterval())
}

func TestBridgeDefaults(t *testing.T) {
	var br BridgeConfig
	require.Equal(t, 256, br.BufferSize())
	require.Equal(t, 10*time.Millisecond, br.PollInterval())
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "doors.yaml"), `channels:
  - id: door-1
    driver: bus
`)
	main := filepath.Join(dir, "config.yaml")
	writeFile(t, main, `include:
  - doors.yaml
channels:
  - id: panel
    driver: bus
bridges:
  - from: panel
    to: door-1
`)

	cfg, err := Load(main)
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 2)
	require.NoError(t, cfg.Validate())

	door, ok := cfg.Channel("door-1")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "doors.yaml"), door.Source)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "include: [b.yaml]\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.ErrorContains(t, err, "include cycle")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "bridges:\n  - interval: soon\n")
	_, err = Load(bad)
	require.ErrorContains(t, err, "parse duration")
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"empty id":      {Channels: []ChannelConfig{{Driver: "bus"}}},
		"duplicate":     {Channels: []ChannelConfig{{ID: "a", Driver: "bus"}, {ID: "a", Driver: "tcp"}}},
		"no driver":     {Channels: []ChannelConfig{{ID: "a"}}},
		"unknown from":  {Channels: []ChannelConfig{{ID: "a", Driver: "bus"}}, Bridges: []BridgeConfig{{From: "x", To: "a"}}},
		"unknown to":    {Channels: []ChannelConfig{{ID: "a", Driver: "bus"}}, Bridges: []BridgeConfig{{From: "a", To: "x"}}},
		"self bridging": {Channels: []ChannelConfig{{ID: "a", Driver: "bus"}}, Bridges: []BridgeConfig{{From: "a", To: "a"}}},
	}
	for name, cfg := range cases {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			require.Error(t, cfg.Validate())
		})
	}

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

func TestDecodeSettingsWithoutSettings(t *testing.T) {
	target := struct{ Address string }{Address: "keep"}
	require.NoError(t, ChannelConfig{ID: "a"}.DecodeSettings(&target))
	require.Equal(t, "keep", target.Address)
}
