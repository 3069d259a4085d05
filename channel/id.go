package channel

import "github.com/cespare/xxhash/v2"

// StringID derives a channel identity from a name such as a bus topic or a
// socket path.
//
// The 64-bit hash of key is folded into 32 bits by XOR-ing its upper and lower
// halves and the result is reinterpreted as a signed integer. The value is
// stable for a given key; distinct keys may collide, although rarely.
func StringID(key string) int32 {
	h := xxhash.Sum64String(key)
	h = (h >> 32) ^ (h & 0xffffffff)
	return int32(uint32(h))
}
