// Package schema describes codec tables as data, so the packets a server
// speaks can be changed without rebuilding it. A schema is read from YAML or
// from a SQLite database and turned into a codec.Table.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/protocol"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("schema: invalid")

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type File struct {
	Inbound  []Packet `yaml:"inbound"`
	Outbound []Packet `yaml:"outbound"`
}

type Packet struct {
	Name   string `yaml:"name"`
	Opcode int    `yaml:"opcode"`
	// Size is a byte count for static packets, VAR_BYTE or VAR_SHORT.
	Size   string  `yaml:"size"`
	Fields []Field `yaml:"fields"`
}

type Field struct {
	Name        string       `yaml:"name"`
	Type        string       `yaml:"type"`
	Terminator  int          `yaml:"terminator,omitempty"`
	Transformer *Transformer `yaml:"transformer,omitempty"`
}

type Transformer struct {
	Translation string `yaml:"translation,omitempty"`
	Order       string `yaml:"order,omitempty"`
}

// Parse reads a YAML schema. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	f := new(File)
	if err := dec.Decode(f); err != nil {
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		return nil, fmt.Errorf("could not decode yaml: %w", err)
	}
	return f, nil
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read schema: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// Packets returns inbound then outbound packets with their direction.
func (f *File) Packets() []DirectedPacket {
	out := make([]DirectedPacket, 0, len(f.Inbound)+len(f.Outbound))
	for _, p := range f.Inbound {
		out = append(out, DirectedPacket{Direction: Inbound, Packet: p})
	}
	for _, p := range f.Outbound {
		out = append(out, DirectedPacket{Direction: Outbound, Packet: p})
	}
	return out
}

type DirectedPacket struct {
	Direction Direction
	Packet
}

// Table builds the codec table. Every problem in the schema is reported, not
// just the first one.
func (f *File) Table() (*codec.Table, error) {
	var errs error
	table := codec.NewTable()

	for _, dp := range f.Packets() {
		c, err := dp.Codec()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s %w", dp.Direction, err))
			continue
		}

		add := table.AddInbound
		if dp.Direction == Outbound {
			add = table.AddOutbound
		}
		if err := add(c); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s %w", dp.Direction, err))
		}
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return table, nil
}

// Codec validates p and builds its codec.
func (p Packet) Codec() (*codec.Codec, error) {
	var errs error

	if p.Opcode < 0 || p.Opcode > 0xFF {
		errs = multierror.Append(errs, fmt.Errorf("opcode %d out of range", p.Opcode))
	}
	size, err := protocol.ParseSizePolicy(p.Size)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	specs := make([]codec.FieldSpec, 0, len(p.Fields))
	for _, field := range p.Fields {
		spec, err := field.spec()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("field %q: %w", field.Name, err))
			continue
		}
		specs = append(specs, spec)
	}

	if errs != nil {
		return nil, fmt.Errorf("packet %q: %w", p.Name, errs)
	}

	desc := protocol.Descriptor{Opcode: uint8(p.Opcode), Size: size}
	c, err := codec.New(p.Name, desc, specs...)
	if err != nil {
		return nil, fmt.Errorf("packet %q: %w", p.Name, err)
	}
	return c, nil
}

func (f Field) spec() (codec.FieldSpec, error) {
	typ, err := protocol.ParseBlockType(f.Type)
	if err != nil {
		return codec.FieldSpec{}, err
	}
	if f.Terminator < 0 || f.Terminator > 0xFF {
		return codec.FieldSpec{}, fmt.Errorf("terminator %d out of range", f.Terminator)
	}
	spec := codec.FieldSpec{
		Name:       f.Name,
		Type:       typ,
		Terminator: byte(f.Terminator),
	}

	if f.Transformer == nil {
		return spec, nil
	}
	tr, err := protocol.ParseTranslation(f.Transformer.Translation)
	if err != nil {
		return codec.FieldSpec{}, err
	}
	order, err := protocol.ParseByteOrder(f.Transformer.Order)
	if err != nil {
		return codec.FieldSpec{}, err
	}
	t, err := protocol.NewTransformer(typ, tr, order)
	if err != nil {
		return codec.FieldSpec{}, err
	}
	// identity transformers are dropped
	if !t.Identity() {
		spec.Transformer = &t
	}
	return spec, nil
}

// FromTable is the inverse of File.Table.
func FromTable(table *codec.Table) *File {
	f := new(File)
	for _, c := range table.InboundCodecs() {
		f.Inbound = append(f.Inbound, fromCodec(c))
	}
	for _, c := range table.OutboundCodecs() {
		f.Outbound = append(f.Outbound, fromCodec(c))
	}
	return f
}

func fromCodec(c *codec.Codec) Packet {
	p := Packet{
		Name:   c.Name,
		Opcode: int(c.Descriptor.Opcode),
		Size:   c.Descriptor.Size.String(),
	}
	for _, spec := range c.Fields() {
		field := Field{
			Name:       spec.Name,
			Type:       spec.Type.String(),
			Terminator: int(spec.Terminator),
		}
		if spec.Transformer != nil {
			field.Transformer = &Transformer{
				Translation: spec.Transformer.Translation().String(),
				Order:       spec.Transformer.Order().String(),
			}
		}
		p.Fields = append(p.Fields, field)
	}
	return p
}
