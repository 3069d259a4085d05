//go:build cgo && libosdp

package channel

/*
#include <stdlib.h>
#include "osdp_channel.h"

static int osdplink_call_recv(struct osdp_channel *c, uint8_t *buf, int maxlen) {
	return c->recv(c->data, buf, maxlen);
}

static int osdplink_call_send(struct osdp_channel *c, uint8_t *buf, int len) {
	return c->send(c->data, buf, len);
}

static void osdplink_call_flush(struct osdp_channel *c) {
	c->flush(c->data);
}
*/
import "C"

import "unsafe"

// nativeChannel drives a filled struct osdp_channel through its C function
// pointers, the way libosdp does.
type nativeChannel struct {
	c *C.struct_osdp_channel
}

func newNativeChannel(d Descriptor) *nativeChannel {
	p := C.calloc(1, C.size_t(unsafe.Sizeof(C.struct_osdp_channel{})))
	d.FillNative(p)
	return &nativeChannel{c: (*C.struct_osdp_channel)(p)}
}

func (n *nativeChannel) id() int32 { return int32(n.c.id) }

func (n *nativeChannel) send(p []byte) int32 {
	buf := C.CBytes(p)
	defer C.free(buf)
	return int32(C.osdplink_call_send(n.c, (*C.uint8_t)(buf), C.int(len(p))))
}

func (n *nativeChannel) recv(maxlen int) (int32, []byte) {
	buf := C.calloc(C.size_t(maxlen+1), 1)
	defer C.free(buf)
	r := C.osdplink_call_recv(n.c, (*C.uint8_t)(buf), C.int(maxlen))
	if r <= 0 {
		return int32(r), nil
	}
	return int32(r), C.GoBytes(buf, r)
}

func (n *nativeChannel) flush() { C.osdplink_call_flush(n.c) }

func (n *nativeChannel) free() { C.free(unsafe.Pointer(n.c)) }
