package codec

import (
	"fmt"

	"github.com/blukai/nova/internal/byteorder"
	"github.com/blukai/nova/internal/protocol"
)

type Stage uint8

const (
	AwaitingID Stage = iota
	AwaitingBytes
)

func (s Stage) String() string {
	if s == AwaitingBytes {
		return "awaiting bytes"
	}
	return "awaiting id"
}

// Decoder extracts packets from a stream one frame at a time. It remembers
// the opcode of a frame whose body has not fully arrived, so it is bound to
// exactly one connection and must not be used concurrently.
type Decoder struct {
	table     *Table
	keystream Keystream

	stage Stage
	codec *Codec
}

// NewDecoder creates a decoder. keystream may be nil.
func NewDecoder(table *Table, keystream Keystream) *Decoder {
	return &Decoder{table: table, keystream: keystream}
}

func (d *Decoder) Stage() Stage { return d.stage }

// Opcode returns the opcode of the frame being awaited, if any.
func (d *Decoder) Opcode() (uint8, bool) {
	if d.stage != AwaitingBytes {
		return 0, false
	}
	return d.codec.Descriptor.Opcode, true
}

// ReadOpcode consumes and deciphers an opcode byte. It returns false when buf
// is empty.
func (d *Decoder) ReadOpcode(buf *protocol.Buffer) (*Codec, bool, error) {
	raw, err := buf.ReadByte()
	if err != nil {
		return nil, false, nil
	}
	opcode := raw
	if d.keystream != nil {
		opcode = raw - byte(d.keystream.Next())
	}

	c, ok := d.table.Inbound(opcode)
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownOpcode, opcode)
	}
	return c, true, nil
}

// DecodeBody reads the length prefix and payload of c's frame. It returns a
// nil packet without error, and leaves buf's read position untouched, when
// the frame is not complete yet.
func (d *Decoder) DecodeBody(c *Codec, buf *protocol.Buffer) (*protocol.Packet, error) {
	buf.Mark()

	length := int(c.Descriptor.Size.Length)
	if n := c.Descriptor.Size.PrefixLen(); n > 0 {
		prefix, err := buf.Next(n)
		if err != nil {
			buf.Rewind()
			return nil, nil
		}
		if n == 1 {
			length = int(prefix[0])
		} else {
			length = int(byteorder.Ntohs(prefix))
		}
	}

	payload, err := buf.Next(length)
	if err != nil {
		buf.Rewind()
		return nil, nil
	}

	return c.decodePayload(protocol.Wrap(payload))
}

// Decode returns the next packet in buf. (nil, nil) means more bytes are
// needed; call again once they arrive, the decoder picks up where it
// stopped. Any error is fatal to the stream: there is no way to find the next
// frame boundary.
func (d *Decoder) Decode(buf *protocol.Buffer) (*protocol.Packet, error) {
	if d.stage == AwaitingID {
		c, ok, err := d.ReadOpcode(buf)
		if err != nil || !ok {
			return nil, err
		}
		d.codec = c
		d.stage = AwaitingBytes
	}

	p, err := d.DecodeBody(d.codec, buf)
	if p == nil || err != nil {
		return nil, err
	}

	d.stage = AwaitingID
	d.codec = nil
	buf.Compact()
	return p, nil
}

// DecodeAll drains every complete frame in buf, calling fn for each.
func (d *Decoder) DecodeAll(buf *protocol.Buffer, fn func(*protocol.Packet)) (int, error) {
	n := 0
	for {
		p, err := d.Decode(buf)
		if err != nil {
			return n, err
		}
		if p == nil {
			return n, nil
		}
		n++
		fn(p)
	}
}
