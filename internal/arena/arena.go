// Package arena implements the job buffer pool: fixed-size, bump-allocated
// backing storage for job payloads, refcounted so a buffer returns to the
// free list only once every job carved from it has completed.
//
// The backing storage itself (pages.go) is a plain byte slice today with a
// documented seam for a real page-aligned mmap allocator; everything above
// that line — bump allocation, marker/rollback, refcounting, pooling — is
// the part this package actually owns.
package arena

import (
	"sync"
	"sync/atomic"
)

// Buffer is one bump-allocated slab of job payload storage. A context owns
// a Buffer exclusively while it is active, so Bump/Mark/Rollback need no
// locking of their own; only the refcount (shared with every job carved
// from the buffer) and the pool's free-list linkage are synchronized.
type Buffer struct {
	data     []byte
	offset   int
	refcount atomic.Int32
	next     *Buffer // free-list linkage, guarded by the owning Pool's mutex
}

// Bytes exposes the buffer's full backing storage, mostly for tests.
func (b *Buffer) Bytes() []byte { return b.data }

// Mark returns the current bump offset, to be paired with Rollback.
func (b *Buffer) Mark() int { return b.offset }

// Rollback restores the bump offset to a previously taken Mark, undoing
// any Bump calls made since — used when a Bump fails mid-allocation and
// the caller wants to retry against a fresh buffer instead of leaving a
// partial reservation behind.
func (b *Buffer) Rollback(mark int) { b.offset = mark }

// Bump reserves size bytes aligned to align, returning the start offset.
// Returns ok=false without reserving anything if the buffer lacks room.
func (b *Buffer) Bump(size, align int) (int, bool) {
	if align <= 0 {
		align = 1
	}
	aligned := (b.offset + align - 1) &^ (align - 1)
	if aligned+size > len(b.data) {
		return 0, false
	}
	b.offset = aligned + size
	return aligned, true
}

// Payload returns the byte range [off, off+size) previously reserved by Bump.
func (b *Buffer) Payload(off, size int) []byte {
	return b.data[off : off+size]
}

// Retain adds one reference, taken whenever a job is carved from the
// buffer (its descriptor holds the reference until the job completes).
func (b *Buffer) Retain() { b.refcount.Add(1) }

// Release drops one reference, returning true if it was the last one.
func (b *Buffer) Release() bool { return b.refcount.Add(-1) == 0 }

func (b *Buffer) resetForReuse() {
	b.offset = 0
	b.refcount.Store(1)
}

// Pool manages a bounded set of Buffers, reusing or freelisting them as
// jobs complete and contexts roll over to fresh buffers.
type Pool struct {
	mu           sync.Mutex
	free         *Buffer
	bufferSize   int
	jobsPerBuf   int
	maxBuffers   int
	totalBuffers int
}

// NewPool sizes a Pool so that every slot in a slotCapacity-sized slot
// table can be covered by some buffer: maxBuffers = ceil(slotCapacity /
// jobsPerBuffer).
func NewPool(bufferSize, jobsPerBuffer, slotCapacity int) *Pool {
	maxBuffers := (slotCapacity + jobsPerBuffer - 1) / jobsPerBuffer
	return &Pool{
		bufferSize: bufferSize,
		jobsPerBuf: jobsPerBuffer,
		maxBuffers: maxBuffers,
	}
}

func (p *Pool) newBuffer() *Buffer {
	b := &Buffer{
		data: allocatePages(p.bufferSize),
	}
	b.refcount.Store(1)
	p.totalBuffers++
	return b
}

// Acquire returns a buffer for a context to make active next. If current
// is non-nil, its owner reference is dropped first; when that drop brings
// the refcount to zero (no outstanding jobs reference it either), current
// itself is reused in place rather than going through the free list. Pass
// current=nil for a context's very first acquisition.
//
// Returns ok=false when the pool is exhausted: no free buffer, and the
// configured maximum buffer count has already been allocated.
func (p *Pool) Acquire(current *Buffer) (*Buffer, bool) {
	if current != nil && current.Release() {
		current.resetForReuse()
		return current, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free != nil {
		b := p.free
		p.free = b.next
		b.next = nil
		b.resetForReuse()
		return b, true
	}

	if p.totalBuffers >= p.maxBuffers {
		return nil, false
	}
	return p.newBuffer(), true
}

// Release drops a buffer's owner reference (e.g. a context tearing down
// without acquiring a replacement) and, if it was the last reference,
// returns it to the free list.
func (p *Pool) Release(b *Buffer) {
	if b == nil || !b.Release() {
		return
	}
	p.mu.Lock()
	b.offset = 0
	b.next = p.free
	p.free = b
	p.mu.Unlock()
}

// Capacity reports the maximum number of buffers this pool will allocate.
func (p *Pool) Capacity() int { return p.maxBuffers }
