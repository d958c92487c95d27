package ipc

import (
	"sync"
	"sync/atomic"
)

// BufferPool is the shared-memory collaborator: a recycling byte-slice pool
// sized by the sharedMemorySize configuration hint.
type BufferPool interface {
	// Get returns a slice of exactly size bytes.
	Get(size int) []byte
	// Put returns a buffer for reuse. The caller must not touch it after.
	Put(buf []byte)
}

// pool recycles buffers through a sync.Pool. maxBytes is a sizing hint, not
// a hard limit: oversized buffers are simply not retained on Put.
type pool struct {
	p        sync.Pool
	maxChunk int
	held     atomic.Int64
	maxBytes int64
}

// defaultChunk bounds retained buffer capacity to keep the pool useful for
// envelope-sized messages.
const defaultChunk = 64 * 1024

// NewBufferPool creates a buffer pool honoring the given byte budget hint
func NewBufferPool(maxBytes int64) BufferPool {
	if maxBytes <= 0 {
		maxBytes = defaultChunk
	}
	return &pool{maxChunk: defaultChunk, maxBytes: maxBytes}
}

func (bp *pool) Get(size int) []byte {
	if v := bp.p.Get(); v != nil {
		buf := v.([]byte)
		if cap(buf) >= size {
			bp.held.Add(int64(-cap(buf)))
			return buf[:size]
		}
		bp.held.Add(int64(-cap(buf)))
	}
	return make([]byte, size)
}

func (bp *pool) Put(buf []byte) {
	if buf == nil || cap(buf) > bp.maxChunk {
		return
	}
	if bp.held.Load()+int64(cap(buf)) > bp.maxBytes {
		return
	}
	bp.held.Add(int64(cap(buf)))
	bp.p.Put(buf[:cap(buf)])
}
