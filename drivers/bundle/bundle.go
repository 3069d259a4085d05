// Package bundle registers the bundled transport drivers.
package bundle

import (
	"github.com/timzifer/osdplink/drivers/bus"
	"github.com/timzifer/osdplink/drivers/canbus"
	"github.com/timzifer/osdplink/drivers/ipc"
	"github.com/timzifer/osdplink/drivers/mqtt"
	"github.com/timzifer/osdplink/drivers/serial"
	"github.com/timzifer/osdplink/drivers/tcp"
	"github.com/timzifer/osdplink/runtime/connections"
)

const (
	busDriver    = "bus"
	ipcDriver    = "ipc"
	tcpDriver    = "tcp"
	serialDriver = "serial"
	mqttDriver   = "mqtt"
	canDriver    = "canbus"
)

// Register installs every bundled driver into reg.
func Register(reg *connections.Registry) {
	reg.Register(busDriver, bus.NewFactory())
	reg.Register(ipcDriver, ipc.NewFactory())
	reg.Register(tcpDriver, tcp.NewFactory())
	reg.Register(serialDriver, serial.NewFactory())
	reg.Register(mqttDriver, mqtt.NewFactory())
	reg.Register(canDriver, canbus.NewFactory())
}

// Registry returns a registry holding every bundled driver.
func Registry() *connections.Registry {
	reg := connections.NewRegistry()
	Register(reg)
	return reg
}
