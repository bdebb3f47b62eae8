// Package pool provides a size-classed, reusable byte buffer pool for the
// event loop's per-client read buffers. A single-threaded loop never
// contends on the pool, so one pool with size classes is enough; the
// class lookup keeps large one-off allocations out of the reuse path.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/xentixar/sockeon-go/api"
)

// classSizes mirrors the classic size-class ladder: 4K covers most HTTP
// requests and WS frames, 16K covers chunkier HTTP bodies, 64K covers
// larger frames. Anything bigger gets a one-off buffer that is never
// pooled.
var classSizes = [...]int{4 * 1024, 16 * 1024, 64 * 1024}

func classFor(size int) int {
	for i, s := range classSizes {
		if size <= s {
			return i
		}
	}
	return len(classSizes)
}

// BufferPool is the default api.BufferPool implementation: one sync.Pool
// per size class, plus a class for oversized one-off allocations that are
// never recycled.
type BufferPool struct {
	classes    [len(classSizes)]sync.Pool
	totalAlloc int64
	totalFree  int64
	inUse      int64
}

// New constructs an empty BufferPool.
func New() *BufferPool {
	p := &BufferPool{}
	for i, size := range classSizes {
		sz := size
		p.classes[i].New = func() any {
			return make([]byte, sz)
		}
	}
	return p
}

// Get returns a Buffer with at least `size` bytes of capacity.
func (p *BufferPool) Get(size int) api.Buffer {
	class := classFor(size)
	atomic.AddInt64(&p.totalAlloc, 1)
	atomic.AddInt64(&p.inUse, 1)

	if class >= len(classSizes) {
		return api.Buffer{Data: make([]byte, size), Pool: p, Class: class}
	}

	buf := p.classes[class].Get().([]byte)
	if cap(buf) < size {
		buf = make([]byte, classSizes[class])
	}
	return api.Buffer{Data: buf[:size], Pool: p, Class: class}
}

// Put returns a buffer to its size class for reuse. Oversized (unclassed)
// buffers are simply dropped for the GC to reclaim.
func (p *BufferPool) Put(b api.Buffer) {
	atomic.AddInt64(&p.totalFree, 1)
	atomic.AddInt64(&p.inUse, -1)
	if b.Data == nil || b.Class >= len(classSizes) {
		return
	}
	p.classes[b.Class].Put(b.Data[:cap(b.Data)])
}

// Stats reports cumulative allocation counters.
func (p *BufferPool) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		TotalAlloc: atomic.LoadInt64(&p.totalAlloc),
		TotalFree:  atomic.LoadInt64(&p.totalFree),
		InUse:      atomic.LoadInt64(&p.inUse),
	}
}

var _ api.BufferPool = (*BufferPool)(nil)
