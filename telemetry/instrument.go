package telemetry

import (
	"errors"
	"io"

	"github.com/timzifer/osdplink/channel"
)

type instrumented struct {
	channel.Channel
	name      string
	collector Collector
}

// Instrument returns a channel.Channel that reports the traffic of ch to
// collector under name. Close is forwarded when ch is an io.Closer.
func Instrument(ch channel.Channel, collector Collector, name string) channel.Channel {
	if collector == nil {
		collector = Noop()
	}
	return &instrumented{Channel: ch, name: name, collector: collector}
}

func (i *instrumented) Read(p []byte) (int, error) {
	n, err := i.Channel.Read(p)
	i.collector.AddReceived(i.name, n)
	if err != nil && !errors.Is(err, io.EOF) {
		i.collector.IncError(i.name, "read")
	}
	return n, err
}

func (i *instrumented) Write(p []byte) (int, error) {
	n, err := i.Channel.Write(p)
	i.collector.AddSent(i.name, n)
	if err != nil {
		i.collector.IncError(i.name, "write")
	}
	return n, err
}

func (i *instrumented) Flush() error {
	err := i.Channel.Flush()
	i.collector.IncFlush(i.name)
	if err != nil {
		i.collector.IncError(i.name, "flush")
	}
	return err
}

func (i *instrumented) Close() error {
	if closer, ok := i.Channel.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
