package protocol

import (
	"fmt"
	"strings"
)

type Field struct {
	Name  string
	Block Block
}

// Packet is a named set of fields in wire order. Setting an existing field
// replaces its value without moving it.
type Packet struct {
	Name       string
	Descriptor Descriptor

	fields []Field
	index  map[string]int
}

func NewPacket(name string, descriptor Descriptor) *Packet {
	return &Packet{
		Name:       name,
		Descriptor: descriptor,
		index:      make(map[string]int),
	}
}

func (p *Packet) Set(name string, block Block) {
	if i, ok := p.index[name]; ok {
		p.fields[i].Block = block
		return
	}
	p.index[name] = len(p.fields)
	p.fields = append(p.fields, Field{Name: name, Block: block})
}

func (p *Packet) Get(name string) (Block, bool) {
	i, ok := p.index[name]
	if !ok {
		return Block{}, false
	}
	return p.fields[i].Block, true
}

func (p *Packet) Int(name string) (int64, bool) {
	b, ok := p.Get(name)
	if !ok || !b.Type.Numeric() {
		return 0, false
	}
	return b.Int, true
}

func (p *Packet) Str(name string) (string, bool) {
	b, ok := p.Get(name)
	if !ok || b.Type != String {
		return "", false
	}
	return b.Str, true
}

// Fields returns the fields in wire order. The slice must not be modified.
func (p *Packet) Fields() []Field { return p.fields }

func (p *Packet) Len() int { return len(p.fields) }

// Equal compares name, descriptor and every field, order included.
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Name != other.Name || p.Descriptor != other.Descriptor || len(p.fields) != len(other.fields) {
		return false
	}
	for i := range p.fields {
		if p.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

func (p *Packet) String() string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "%s{%s", p.Name, p.Descriptor)
	for _, f := range p.fields {
		fmt.Fprintf(&sb, " %s=%s", f.Name, f.Block)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Builder assembles a packet field by field:
//
//	protocol.NewBuilder("chat", desc).
//		Int8("effects", 0).
//		String("text", "hello").
//		Build()
type Builder struct {
	packet *Packet
}

func NewBuilder(name string, descriptor Descriptor) *Builder {
	return &Builder{packet: NewPacket(name, descriptor)}
}

func (b *Builder) Int8(name string, v int8) *Builder {
	b.packet.Set(name, Int(Int8, int64(v)))
	return b
}

func (b *Builder) Int16(name string, v int16) *Builder {
	b.packet.Set(name, Int(Int16, int64(v)))
	return b
}

// Int24 keeps the low 24 bits of v.
func (b *Builder) Int24(name string, v int32) *Builder {
	b.packet.Set(name, Int(Int24, int64(v)))
	return b
}

func (b *Builder) Int32(name string, v int32) *Builder {
	b.packet.Set(name, Int(Int32, int64(v)))
	return b
}

func (b *Builder) Int64(name string, v int64) *Builder {
	b.packet.Set(name, Int(Int64, v))
	return b
}

func (b *Builder) String(name string, v string) *Builder {
	b.packet.Set(name, Str(v, 0))
	return b
}

func (b *Builder) Block(name string, block Block) *Builder {
	b.packet.Set(name, block)
	return b
}

func (b *Builder) Build() *Packet {
	return b.packet
}
