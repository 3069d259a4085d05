package bundle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryListsBundledDrivers(t *testing.T) {
	require.Equal(t, []string{"bus", "canbus", "ipc", "mqtt", "serial", "tcp"}, Registry().Drivers())
}
