package util

import "sync"

// DefaultBufSize is the standard buffer size for socket reads (32 KiB).
const DefaultBufSize = 32 * 1024

// BufPool provides reusable byte buffers for network reads, reducing
// GC pressure when many connection handlers are live at once.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
