package backend

import (
	"sync"
)

// DefaultChunkSize is the default size of byte buffers allocated for
// file transfers. 4MB keeps syscall overhead low while letting a
// cancel take effect quickly between chunks.
const DefaultChunkSize = 4 * 1024 * 1024

// BufferPool manages reusable byte buffers to minimize GC overhead
// during large transfers.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a BufferPool that allocates buffers of the
// specified size. If size is <= 0, DefaultChunkSize is used.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get retrieves a reusable byte buffer from the pool.
// The caller should defer calling Put on this buffer once finished.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns the byte buffer to the pool so it can be reused.
// The caller should not hold onto or read/write to the buffer after calling Put.
func (bp *BufferPool) Put(b *[]byte) {
	if b != nil {
		bp.pool.Put(b)
	}
}
