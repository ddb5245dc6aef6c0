package protocol

import (
	"errors"
)

var (
	ErrBufferFull  = errors.New("protocol: buffer full")
	ErrShortBuffer = errors.New("protocol: not enough bytes")
)

// Buffer is a fixed-capacity byte queue with a read cursor. Writes append at
// the tail, reads consume from the cursor. Consumed bytes stay in place until
// Compact, which is what allows Rewind to undo a partial read.
type Buffer struct {
	data []byte
	rpos int
	mark int

	// bytes discarded by Compact, so that Offset stays monotonic
	compacted uint64
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Wrap returns a read-only view over p. Its capacity is exactly len(p).
func Wrap(p []byte) *Buffer {
	return &Buffer{data: p[:len(p):len(p)]}
}

func (b *Buffer) Cap() int { return cap(b.data) }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.data) - b.rpos }

// Free returns how many more bytes can be written before Compact is needed.
func (b *Buffer) Free() int { return cap(b.data) - len(b.data) }

// Offset is the total number of bytes consumed since the buffer was created.
func (b *Buffer) Offset() uint64 { return b.compacted + uint64(b.rpos) }

// Bytes returns the unread bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.rpos:] }

// Write appends all of p or nothing.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		b.Compact()
		if len(p) > b.Free() {
			return 0, ErrBufferFull
		}
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *Buffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

func (b *Buffer) ReadByte() (byte, error) {
	if b.Len() < 1 {
		return 0, ErrShortBuffer
	}
	c := b.data[b.rpos]
	b.rpos++
	return c, nil
}

// Next consumes n bytes. The returned slice aliases the buffer and is valid
// until the next write or Compact.
func (b *Buffer) Next(n int) ([]byte, error) {
	if b.Len() < n {
		return nil, ErrShortBuffer
	}
	p := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

// Skip drops n unread bytes, or all of them if fewer are available.
func (b *Buffer) Skip(n int) {
	b.rpos += min(n, b.Len())
}

// Mark remembers the current read position for a later Rewind.
func (b *Buffer) Mark() { b.mark = b.rpos }

// Rewind moves the read position back to the last Mark.
func (b *Buffer) Rewind() { b.rpos = b.mark }

// Compact discards consumed bytes, making room at the tail. It invalidates
// the mark.
func (b *Buffer) Compact() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.data[:cap(b.data)], b.data[b.rpos:])
	b.data = b.data[:n]
	b.compacted += uint64(b.rpos)
	b.rpos = 0
	b.mark = 0
}

// Clear drops everything, read or not.
func (b *Buffer) Clear() {
	b.compacted += uint64(len(b.data))
	b.data = b.data[:0]
	b.rpos = 0
	b.mark = 0
}
