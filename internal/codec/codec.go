// Package codec maps packets to frames and back.
//
// A frame is an opcode byte, a length prefix of 0, 1 or 2 bytes depending on
// the size policy, and the payload. When a keystream is attached the opcode
// byte carries the true opcode plus the next keystream value, mod 256.
package codec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blukai/nova/internal/protocol"
)

var (
	ErrUnknownOpcode = errors.New("codec: unknown opcode")
	ErrUnknownPacket = errors.New("codec: unknown packet")
	ErrFrameMismatch = errors.New("codec: frame length mismatch")
	ErrMissingField  = errors.New("codec: missing field")
	ErrFieldType     = errors.New("codec: field type mismatch")
	ErrFrameTooLarge = errors.New("codec: frame too large")
	ErrInvalidCodec  = errors.New("codec: invalid codec")
)

// Keystream yields the values that offset opcodes. Both ends of one
// direction must draw from identically seeded streams in frame order.
type Keystream interface {
	Next() uint32
}

type FieldSpec struct {
	Name       string
	Type       protocol.BlockType
	Terminator byte
	// Transformer is optional.
	Transformer *protocol.Transformer
}

// Codec is the wire layout of one packet.
type Codec struct {
	Name       string
	Descriptor protocol.Descriptor

	fields []FieldSpec
	minLen int
}

// New validates the layout once so that encoding and decoding never have to.
func New(name string, descriptor protocol.Descriptor, fields ...FieldSpec) (*Codec, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: missing name (opcode %d)", ErrInvalidCodec, descriptor.Opcode)
	}

	seen := make(map[string]struct{}, len(fields))
	minLen := 0
	hasString := false
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s: unnamed field", ErrInvalidCodec, name)
		}
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidCodec, name, f.Name)
		}
		seen[f.Name] = struct{}{}

		switch {
		case f.Type == protocol.String:
			if f.Transformer != nil {
				return nil, fmt.Errorf("%w: %s.%s: strings can not be transformed", ErrInvalidCodec, name, f.Name)
			}
			hasString = true
			minLen++
		case f.Type.Numeric():
			if f.Transformer != nil && f.Transformer.Type() != f.Type {
				return nil, fmt.Errorf("%w: %s.%s: %s transformer on %s field",
					ErrInvalidCodec, name, f.Name, f.Transformer.Type(), f.Type)
			}
			minLen += f.Type.Width()
		default:
			return nil, fmt.Errorf("%w: %s.%s: %s", ErrInvalidCodec, name, f.Name, f.Type)
		}
	}

	size := descriptor.Size
	switch {
	case size.Kind == protocol.SizeStatic && !hasString && minLen != int(size.Length):
		return nil, fmt.Errorf("%w: %s: fields take %d bytes, size is %d", ErrInvalidCodec, name, minLen, size.Length)
	case minLen > size.MaxLen():
		return nil, fmt.Errorf("%w: %s: fields take at least %d bytes, size allows %d", ErrInvalidCodec, name, minLen, size.MaxLen())
	}

	return &Codec{
		Name:       name,
		Descriptor: descriptor,
		fields:     append([]FieldSpec(nil), fields...),
		minLen:     minLen,
	}, nil
}

// Fields returns the layout in wire order. The slice must not be modified.
func (c *Codec) Fields() []FieldSpec { return c.fields }

func (c *Codec) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.Descriptor)
}

// encodePayload writes every declared field of p in order. Fields of p that
// the codec does not declare are ignored.
func (c *Codec) encodePayload(p *protocol.Packet, dst *protocol.Buffer) error {
	for _, f := range c.fields {
		block, ok := p.Get(f.Name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, c.Name, f.Name)
		}
		if block.Type != f.Type {
			return fmt.Errorf("%w: %s.%s is %s, want %s", ErrFieldType, c.Name, f.Name, block.Type, f.Type)
		}

		if f.Type == protocol.String {
			block.Terminator = f.Terminator
		} else if f.Transformer != nil {
			block = protocol.Int(f.Type, f.Transformer.Encode(block.Int))
		}

		if err := block.Encode(dst); err != nil {
			if errors.Is(err, protocol.ErrBufferFull) {
				return fmt.Errorf("%w: %s", ErrFrameTooLarge, c.Name)
			}
			return fmt.Errorf("could not encode %s.%s: %w", c.Name, f.Name, err)
		}
	}
	return nil
}

// decodePayload reads the fields from a buffer that holds exactly one
// payload.
func (c *Codec) decodePayload(src *protocol.Buffer) (*protocol.Packet, error) {
	p := protocol.NewPacket(c.Name, c.Descriptor)
	for _, f := range c.fields {
		block, err := protocol.DecodeBlock(f.Type, f.Terminator, src)
		if err != nil {
			if errors.Is(err, protocol.ErrShortBuffer) {
				return nil, fmt.Errorf("%w: %s.%s runs past the payload", ErrFrameMismatch, c.Name, f.Name)
			}
			return nil, fmt.Errorf("could not decode %s.%s: %w", c.Name, f.Name, err)
		}
		if f.Transformer != nil {
			block = protocol.Int(f.Type, f.Transformer.Decode(block.Int))
		}
		p.Set(f.Name, block)
	}
	if src.Len() != 0 {
		return nil, fmt.Errorf("%w: %s leaves %d bytes unread", ErrFrameMismatch, c.Name, src.Len())
	}
	return p, nil
}

// Table holds the codecs of one side of a connection: inbound ones are found
// by opcode when decoding, outbound ones by packet name when encoding. It is
// read-only once built and safe to share between connections.
type Table struct {
	inbound  map[uint8]*Codec
	outbound map[string]*Codec
}

func NewTable() *Table {
	return &Table{
		inbound:  make(map[uint8]*Codec),
		outbound: make(map[string]*Codec),
	}
}

func (t *Table) AddInbound(c *Codec) error {
	if prev, ok := t.inbound[c.Descriptor.Opcode]; ok {
		return fmt.Errorf("%w: opcode %d is taken by %s and %s", ErrInvalidCodec, c.Descriptor.Opcode, prev.Name, c.Name)
	}
	t.inbound[c.Descriptor.Opcode] = c
	return nil
}

func (t *Table) AddOutbound(c *Codec) error {
	if _, ok := t.outbound[c.Name]; ok {
		return fmt.Errorf("%w: duplicate outbound packet %s", ErrInvalidCodec, c.Name)
	}
	t.outbound[c.Name] = c
	return nil
}

func (t *Table) Inbound(opcode uint8) (*Codec, bool) {
	c, ok := t.inbound[opcode]
	return c, ok
}

func (t *Table) Outbound(name string) (*Codec, bool) {
	c, ok := t.outbound[name]
	return c, ok
}

// InboundCodecs returns inbound codecs sorted by opcode.
func (t *Table) InboundCodecs() []*Codec {
	out := make([]*Codec, 0, len(t.inbound))
	for _, c := range t.inbound {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.Opcode < out[j].Descriptor.Opcode })
	return out
}

// OutboundCodecs returns outbound codecs sorted by opcode, then name.
func (t *Table) OutboundCodecs() []*Codec {
	out := make([]*Codec, 0, len(t.outbound))
	for _, c := range t.outbound {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Descriptor.Opcode != out[j].Descriptor.Opcode {
			return out[i].Descriptor.Opcode < out[j].Descriptor.Opcode
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reverse returns the table the peer uses: what one side decodes the other
// encodes.
func (t *Table) Reverse() (*Table, error) {
	r := NewTable()
	for _, c := range t.InboundCodecs() {
		if err := r.AddOutbound(c); err != nil {
			return nil, err
		}
	}
	for _, c := range t.OutboundCodecs() {
		if err := r.AddInbound(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
