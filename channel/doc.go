// Package channel adapts ordinary byte streams into the transport shape an
// OSDP protocol engine expects: an identity, an opaque context value and three
// callbacks (receive, send, flush) the engine invokes for the lifetime of a
// connection.
//
// A Channel is anything that can be read, written, flushed and asked for its
// numeric identity. New wraps a Channel into an Adapter, which serialises every
// operation on the channel behind a mutex, and Adapter.Descriptor produces the
// plain-data Descriptor handed to the engine.
//
// The context value inside a Descriptor is a Handle: an index into a
// process-wide table rather than a raw pointer. A Handle stays valid until the
// owning Adapter is closed; callbacks invoked with a stale Handle fail with -1
// instead of touching freed memory. Callers must still detach a connection
// from the engine before closing its Adapter.
//
// Channels whose natural identity is a name (a bus topic, a socket path)
// derive their identity with StringID.
//
// Building with the libosdp tag (and cgo) additionally exports the three
// callbacks with C linkage and lets a Descriptor fill a native
// struct osdp_channel.
package channel
