// Package buffer implements the growable byte buffer and the scoped-lock
// wrapper around it that the rest of the pipeline is built on.
package buffer

// Buffer is a contiguous growable byte container. Bytes in [0, Size()) are
// valid; Reserve/Commit extend the tail, Consume advances the head without
// reallocating whenever the freed space makes that worthwhile.
type Buffer struct {
	data []byte
	head int
}

// New returns an empty buffer with the given initial capacity hint.
func New(capHint int) *Buffer {
	if capHint < 0 {
		capHint = 0
	}
	return &Buffer{data: make([]byte, 0, capHint)}
}

// Size returns the number of valid bytes currently held.
func (b *Buffer) Size() int {
	return len(b.data) - b.head
}

// Append copies data onto the tail of the buffer.
func (b *Buffer) Append(data []byte) {
	dst := b.Reserve(len(data))
	copy(dst, data)
	b.Commit(len(data))
}

// Reserve returns a writable span of at least n bytes at the tail. The
// caller must call Commit with the number of bytes actually written before
// any other buffer method is called.
func (b *Buffer) Reserve(n int) []byte {
	b.compact()
	if cap(b.data)-len(b.data) < n {
		grown := make([]byte, len(b.data), grow(cap(b.data), len(b.data)+n))
		copy(grown, b.data)
		b.data = grown
	}
	return b.data[len(b.data) : len(b.data)+n : cap(b.data)]
}

// Commit extends the valid tail by n bytes previously written into the span
// returned by Reserve.
func (b *Buffer) Commit(n int) {
	b.data = b.data[:len(b.data)+n]
}

// Consume advances the head by n bytes, discarding them.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	b.head += n
	if b.head > len(b.data) {
		b.head = len(b.data)
	}
}

// AsView returns the currently valid bytes. The slice is only valid until
// the next mutating call.
func (b *Buffer) AsView() []byte {
	return b.data[b.head:]
}

// compact slides remaining bytes to the front once the head has eaten a
// large enough share of the backing array, so Reserve doesn't grow forever
// on a buffer that is mostly being drained.
func (b *Buffer) compact() {
	if b.head == 0 {
		return
	}
	if b.head < len(b.data)/2 && cap(b.data)-len(b.data) > b.head {
		return
	}
	n := copy(b.data, b.data[b.head:])
	b.data = b.data[:n]
	b.head = 0
}

func grow(oldCap, need int) int {
	c := oldCap
	if c == 0 {
		c = 64
	}
	for c < need {
		c *= 2
	}
	return c
}
