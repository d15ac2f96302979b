// Package ringbuffer implements the fixed-capacity float32 FIFO that
// backs the streaming pipeline's per-session audio buffer (spec §4.A).
//
// It is built for exactly one producer and one consumer; concurrent
// mixed producers are not supported. A third-party byte-oriented ring (e.g.
// smallnest/ringbuffer) was considered and rejected — see DESIGN.md —
// because its blocking io.Reader/io.Writer contract cannot express
// "write returns the count actually written, never drops, never
// blocks."
package ringbuffer

// Buffer is a fixed-capacity single-producer/single-consumer float32
// ring buffer. The zero value is not usable; construct with New.
type Buffer struct {
	data  []float32
	head  int // next read position
	tail  int // next write position
	count int // number of valid samples currently buffered
}

// New creates a Buffer with the given sample capacity. Panics if
// capacity <= 0 — this is a programmer error, not a runtime contract
// the public API documents as recoverable.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuffer: capacity must be positive")
	}
	return &Buffer{data: make([]float32, capacity)}
}

// Capacity returns the buffer's fixed sample capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// AvailableRead returns the number of samples currently available to Read.
func (b *Buffer) AvailableRead() int { return b.count }

// AvailableWrite returns the number of samples that can be written
// without overflowing.
func (b *Buffer) AvailableWrite() int { return len(b.data) - b.count }

// IsEmpty reports whether the buffer holds no samples.
func (b *Buffer) IsEmpty() bool { return b.count == 0 }

// IsFull reports whether the buffer has no remaining write capacity.
func (b *Buffer) IsFull() bool { return b.count == len(b.data) }

// Clear discards all buffered samples without reallocating storage.
func (b *Buffer) Clear() {
	b.head = 0
	b.tail = 0
	b.count = 0
}

// Write appends as many samples from src as fit and returns the count
// actually written. It never blocks and never silently drops: if src
// is longer than the remaining capacity, the tail of src beyond
// AvailableWrite() is simply not copied, and the caller can see that
// from the returned count.
func (b *Buffer) Write(src []float32) int {
	n := len(src)
	if room := b.AvailableWrite(); n > room {
		n = room
	}
	for i := 0; i < n; i++ {
		b.data[b.tail] = src[i]
		b.tail = (b.tail + 1) % len(b.data)
	}
	b.count += n
	return n
}

// Read copies up to n samples into dst (which must have length >= n)
// and advances the read position. It returns the number of samples
// actually copied, which is at most AvailableRead().
func (b *Buffer) Read(dst []float32, n int) int {
	if n > b.count {
		n = b.count
	}
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = b.data[b.head]
		b.head = (b.head + 1) % len(b.data)
	}
	b.count -= n
	return n
}

// Peek copies up to n samples into dst without advancing the read
// position. It returns the number of samples actually copied.
func (b *Buffer) Peek(dst []float32, n int) int {
	if n > b.count {
		n = b.count
	}
	if n > len(dst) {
		n = len(dst)
	}
	pos := b.head
	for i := 0; i < n; i++ {
		dst[i] = b.data[pos]
		pos = (pos + 1) % len(b.data)
	}
	return n
}

// Advance discards up to n samples from the front without copying
// them anywhere, returning the count actually discarded. Used by the
// streaming pipeline to move past a frame by one hop once the frame
// has been peeked and processed.
func (b *Buffer) Advance(n int) int {
	if n > b.count {
		n = b.count
	}
	b.head = (b.head + n) % len(b.data)
	b.count -= n
	return n
}
