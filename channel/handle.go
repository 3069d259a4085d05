package channel

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Handle is the opaque context value stored by the engine. It indexes a
// process-wide table of live adapters. The zero Handle is never issued.
type Handle uintptr

var (
	handles    = xsync.NewMapOf[Handle, *Adapter]()
	nextHandle atomic.Uintptr
)

func register(a *Adapter) Handle {
	h := Handle(nextHandle.Add(1))
	handles.Store(h, a)
	return h
}

func lookup(h Handle) (*Adapter, bool) {
	if h == 0 {
		return nil, false
	}
	return handles.Load(h)
}

func unregister(h Handle) bool {
	_, ok := handles.LoadAndDelete(h)
	return ok
}

// Live returns the number of adapters currently reachable through a Handle.
func Live() int {
	return handles.Size()
}
