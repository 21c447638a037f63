// ABOUTME: Lock-free single-producer single-consumer byte ring buffer
// ABOUTME: Hands audio bytes from the network producer to the realtime render callback
package ring

import (
	"fmt"
	"sync/atomic"
)

// Buffer is a fixed-capacity circular byte buffer for exactly one producer
// and one consumer. The write offset is only ever advanced by the producer
// and the read offset only by the consumer, so neither side needs a lock.
// Both offsets are free-running 64-bit counters; they are masked only when
// indexing the backing array.
type Buffer struct {
	data []byte
	size uint64
	mask uint64

	readPos  atomic.Uint64
	writePos atomic.Uint64

	pinned bool
}

// New allocates a ring buffer holding at least capacity bytes. The actual
// capacity is rounded up to the next power of two so that offsets can be
// masked instead of taken modulo.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring: capacity must be positive, got %d", capacity)
	}

	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}

	return &Buffer{
		data: make([]byte, size),
		size: size,
		mask: size - 1,
	}, nil
}

// Capacity returns the usable size of the buffer in bytes.
func (b *Buffer) Capacity() int {
	return int(b.size)
}

// UnreadBytes returns the number of bytes written but not yet consumed.
// Safe to call from either side; the result may be momentarily stale but
// never exceeds capacity and never goes negative.
func (b *Buffer) UnreadBytes() int {
	// Load read before write: a concurrent producer can only grow the
	// result, a concurrent consumer can only shrink it.
	r := b.readPos.Load()
	w := b.writePos.Load()
	return int(w - r)
}

// FreeBytes returns the number of bytes that can currently be written.
func (b *Buffer) FreeBytes() int {
	w := b.writePos.Load()
	r := b.readPos.Load()
	return int(b.size - (w - r))
}

// Write copies as much of p as fits into the buffer and returns the number
// of bytes accepted. A short write means the buffer is full; it is not an
// error and the caller decides whether to drop or report the excess.
// Producer side only.
func (b *Buffer) Write(p []byte) int {
	w := b.writePos.Load()
	r := b.readPos.Load()

	n := int(b.size - (w - r))
	if n > len(p) {
		n = len(p)
	}
	if n == 0 {
		return 0
	}

	idx := w & b.mask
	first := uint64(n)
	if idx+first > b.size {
		first = b.size - idx
	}
	copy(b.data[idx:], p[:first])
	copy(b.data, p[first:n])

	// Publish the new write offset after the payload is in place.
	b.writePos.Store(w + uint64(n))
	return n
}

// ReadVector returns up to two contiguous spans covering the unread region;
// the second span is non-empty only when the region wraps around the end of
// the backing array. The spans alias the buffer's storage and stay valid
// until AdvanceRead is called. Consumer side only; allocates nothing.
func (b *Buffer) ReadVector() [2][]byte {
	r := b.readPos.Load()
	w := b.writePos.Load()

	unread := w - r
	idx := r & b.mask

	first := unread
	if idx+first > b.size {
		first = b.size - idx
	}
	return [2][]byte{
		b.data[idx : idx+first],
		b.data[:unread-first],
	}
}

// AdvanceRead commits consumption of n bytes. Consumer side only; n must
// not exceed UnreadBytes.
func (b *Buffer) AdvanceRead(n int) {
	b.readPos.Store(b.readPos.Load() + uint64(n))
}

// Pinned reports whether the backing array is locked into physical memory.
func (b *Buffer) Pinned() bool {
	return b.pinned
}
