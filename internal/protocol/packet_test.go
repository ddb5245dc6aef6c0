package protocol_test

import (
	"testing"

	"github.com/blukai/nova/internal/protocol"
	"github.com/matryer/is"
)

func TestPacket(t *testing.T) {
	is := is.New(t)

	desc := protocol.Descriptor{Opcode: 4, Size: protocol.VarByte}
	packet := protocol.NewBuilder("chat", desc).
		Int8("effects", 1).
		Int24("color", -1).
		String("text", "hello").
		Build()

	is.Equal(packet.Len(), 3)
	is.Equal(packet.Fields()[1].Name, "color")

	color, ok := packet.Int("color")
	is.True(ok)
	is.Equal(color, int64(-1))

	_, ok = packet.Int("text")
	is.True(!ok)
	text, ok := packet.Str("text")
	is.True(ok)
	is.Equal(text, "hello")

	// replacing keeps position
	packet.Set("effects", protocol.Int(protocol.Int8, 2))
	is.Equal(packet.Fields()[0].Block.Int, int64(2))

	other := protocol.NewBuilder("chat", desc).
		Int8("effects", 2).
		Int24("color", -1).
		String("text", "hello").
		Build()
	is.True(packet.Equal(other))

	reordered := protocol.NewBuilder("chat", desc).
		Int24("color", -1).
		Int8("effects", 2).
		String("text", "hello").
		Build()
	is.True(!packet.Equal(reordered))
}

func TestDescriptorEquality(t *testing.T) {
	is := is.New(t)

	is.Equal(protocol.Descriptor{Opcode: 1, Size: protocol.Static(4)}, protocol.Descriptor{Opcode: 1, Size: protocol.Static(4)})
	is.True(protocol.Descriptor{Opcode: 1, Size: protocol.Static(4)} != protocol.Descriptor{Opcode: 1, Size: protocol.VarByte})
}
