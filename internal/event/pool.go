package event

import (
	"bytes"
	"sync"
)

// Encode buffers are pooled to reduce GC pressure on the event feed hotpath:
// every published event is JSON-encoded once per connected dashboard.
//
// Usage:
//
//	buf := AcquireBuffer()
//	// ... encode into buf ...
//	ReleaseBuffer(buf) // return to pool after the write completes
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// AcquireBuffer gets an empty buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// ReleaseBuffer resets the buffer and returns it to the pool.
func ReleaseBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
