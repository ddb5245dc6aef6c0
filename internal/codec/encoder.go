package codec

import (
	"fmt"

	"github.com/blukai/nova/internal/byteorder"
	"github.com/blukai/nova/internal/protocol"
)

// maxFrameLen is opcode + 2 byte prefix + the largest var short payload.
const maxFrameLen = 1 + 2 + 0xFFFF

// Encoder writes packets as frames. Like Decoder it carries keystream state
// and must be used by one goroutine at a time.
type Encoder struct {
	table     *Table
	keystream Keystream

	scratch *protocol.Buffer
}

// NewEncoder creates an encoder. keystream may be nil.
func NewEncoder(table *Table, keystream Keystream) *Encoder {
	return &Encoder{table: table, keystream: keystream}
}

// Encode appends p's frame to dst. On error nothing is written and the
// keystream does not advance.
func (e *Encoder) Encode(p *protocol.Packet, dst *protocol.Buffer) error {
	c, ok := e.table.Outbound(p.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPacket, p.Name)
	}

	if e.scratch == nil {
		e.scratch = protocol.NewBuffer(maxFrameLen)
	}
	e.scratch.Clear()

	size := c.Descriptor.Size
	header := 1 + size.PrefixLen()
	// NOTE: header is reserved here and patched in below, once the payload
	// length is known.
	_, _ = e.scratch.Write(make([]byte, header))

	if err := c.encodePayload(p, e.scratch); err != nil {
		return err
	}

	frame := e.scratch.Bytes()
	length := len(frame) - header
	switch {
	case size.Kind == protocol.SizeStatic && length != int(size.Length):
		return fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrFrameMismatch, c.Name, length, size.Length)
	case length > size.MaxLen():
		return fmt.Errorf("%w: %s payload is %d bytes, max %d", ErrFrameTooLarge, c.Name, length, size.MaxLen())
	}
	if len(frame) > dst.Cap()-dst.Len() {
		return protocol.ErrBufferFull
	}

	switch size.PrefixLen() {
	case 1:
		frame[1] = byte(length)
	case 2:
		copy(frame[1:3], byteorder.Htons(uint16(length)))
	}

	frame[0] = c.Descriptor.Opcode
	if e.keystream != nil {
		frame[0] += byte(e.keystream.Next())
	}

	_, err := dst.Write(frame)
	return err
}
