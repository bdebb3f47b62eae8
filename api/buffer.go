// Package api defines the small, dependency-free interfaces that glue the
// socket core, the buffer pool, and the protocol layer together without
// introducing import cycles.
package api

// Buffer is a pooled, zero-copy memory slice handed out by a BufferPool.
// It is a struct rather than an interface so that passing one around never
// boxes or allocates.
type Buffer struct {
	Data  []byte
	Pool  Releaser
	Class int
}

// Releaser decouples Buffer.Release from any specific pool implementation.
type Releaser interface {
	Put(Buffer)
}

// Bytes returns the slice backing this Buffer.
func (b Buffer) Bytes() []byte { return b.Data }

// Len returns the number of valid bytes in the buffer.
func (b Buffer) Len() int { return len(b.Data) }

// Slice returns a new Buffer view sharing the same underlying memory.
func (b Buffer) Slice(from, to int) Buffer {
	if from < 0 || to > len(b.Data) || from > to {
		return Buffer{Pool: b.Pool, Class: b.Class}
	}
	return Buffer{Data: b.Data[from:to], Pool: b.Pool, Class: b.Class}
}

// Release returns the buffer to its owning pool. Safe to call on a
// zero-value Buffer.
func (b Buffer) Release() {
	if b.Pool != nil {
		b.Pool.Put(b)
	}
}

// BufferPool hands out reusable byte buffers sized for the event loop's
// per-tick socket reads.
type BufferPool interface {
	Get(size int) Buffer
	Put(b Buffer)
	Stats() BufferPoolStats
}

// BufferPoolStats summarizes pool usage for diagnostics.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
}
