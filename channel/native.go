//go:build cgo && libosdp

package channel

/*
#include "osdp_channel.h"

extern int osdplinkRecv(void *data, uint8_t *buf, int maxlen);
extern int osdplinkSend(void *data, uint8_t *buf, int len);
extern void osdplinkFlush(void *data);
*/
import "C"

import "unsafe"

// FillNative writes d into the struct osdp_channel pointed to by dst, which
// must be C memory owned by the caller. The data field carries the Handle, not
// a Go pointer.
func (d Descriptor) FillNative(dst unsafe.Pointer) {
	c := (*C.struct_osdp_channel)(dst)
	// Data is a handle table index, never a Go pointer, so the conversion
	// hands C nothing the garbage collector tracks.
	c.data = unsafe.Pointer(uintptr(d.Data))
	c.id = C.int(d.ID)
	c.recv = C.osdp_read_fn_t(C.osdplinkRecv)
	c.send = C.osdp_write_fn_t(C.osdplinkSend)
	c.flush = C.osdp_flush_fn_t(C.osdplinkFlush)
}

//export osdplinkRecv
func osdplinkRecv(data unsafe.Pointer, buf *C.uint8_t, maxlen C.int) C.int {
	if buf == nil || maxlen <= 0 {
		return 0
	}
	out := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(maxlen))
	return C.int(Recv(Handle(uintptr(data)), out))
}

//export osdplinkSend
func osdplinkSend(data unsafe.Pointer, buf *C.uint8_t, length C.int) C.int {
	if buf == nil || length <= 0 {
		return 0
	}
	in := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(length))
	return C.int(Send(Handle(uintptr(data)), in))
}

//export osdplinkFlush
func osdplinkFlush(data unsafe.Pointer) {
	Flush(Handle(uintptr(data)))
}
