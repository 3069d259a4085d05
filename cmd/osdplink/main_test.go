package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/drivers/bus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "osdplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIDCommand(t *testing.T) {
	out, err := execute(t, "id", "door-7", "panel")
	require.NoError(t, err)
	require.Contains(t, out, fmt.Sprintf("door-7\t%d\n", channel.StringID("door-7")))
	require.Contains(t, out, fmt.Sprintf("panel\t%d\n", channel.StringID("panel")))

	_, err = execute(t, "id")
	require.Error(t, err)
}

const busConfig = `
channels:
  - id: panel
    driver: bus
    settings: {name: cmd-test-left}
  - id: door-7
    driver: bus
    channel_id: 7
    settings: {name: cmd-test-right}
bridges:
  - from: panel
    to: door-7
    interval: 1ms
`

func TestCheckCommandOpensChannels(t *testing.T) {
	path := writeConfig(t, busConfig)
	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "door-7")
	require.Contains(t, out, fmt.Sprint(channel.StringID("cmd-test-left")))
	require.Contains(t, out, "2 channels, 1 bridges OK")
	require.Zero(t, bus.Get("cmd-test-left").Subscribers())
}

func TestCheckCommandRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "channels:\n  - id: x\n    driver: carrier-pigeon\n")
	_, err := execute(t, "check", "--dry-run", "--config", path)
	require.ErrorContains(t, err, "unknown driver")
}

func TestCheckCommandDryRun(t *testing.T) {
	path := writeConfig(t, busConfig)
	out, err := execute(t, "check", "--dry-run", "-c", path)
	require.NoError(t, err)
	require.Contains(t, out, "derived")
	require.Contains(t, out, "7")
}

func TestRunBridgesForwardsUntilCancelled(t *testing.T) {
	path := writeConfig(t, busConfig)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	panel := channel.New(bus.Get("cmd-test-left").Subscribe())
	defer panel.Close()
	reader := channel.New(bus.Get("cmd-test-right").Subscribe())
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runBridges(ctx, cfg, zerolog.Nop()) }()

	require.Eventually(t, func() bool {
		return bus.Get("cmd-test-left").Subscribers() == 2 && bus.Get("cmd-test-right").Subscribers() == 2
	}, 2*time.Second, time.Millisecond)

	_, err = panel.Write([]byte{0x53, 0x01})
	require.NoError(t, err)
	var got []byte
	require.Eventually(t, func() bool {
		chunk, err := reader.Read(16)
		if err != nil {
			return false
		}
		got = append(got, chunk...)
		return len(got) == 2
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, []byte{0x53, 0x01}, got)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridges did not stop")
	}
	require.Equal(t, 1, bus.Get("cmd-test-left").Subscribers())
}
