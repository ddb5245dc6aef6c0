package schema_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/protocol"
	"github.com/blukai/nova/internal/schema"
	"github.com/matryer/is"
)

func TestLoadTable(t *testing.T) {
	is := is.New(t)

	f, err := schema.Load(filepath.Join("testdata", "game.yaml"))
	is.NoErr(err)
	is.Equal(len(f.Inbound), 3)
	is.Equal(len(f.Outbound), 3)

	table, err := f.Table()
	is.NoErr(err)

	login, ok := table.Inbound(16)
	is.True(ok)
	is.Equal(login.Name, "login")
	is.Equal(login.Descriptor.Size, protocol.VarByte)

	fields := login.Fields()
	is.Equal(len(fields), 3)
	is.Equal(fields[0].Transformer.Translation(), protocol.TranslateA)
	is.Equal(fields[0].Transformer.Order(), protocol.LittleEndian)
	is.Equal(fields[1].Transformer, nil)
	is.Equal(fields[2].Terminator, byte(10))

	walk, ok := table.Inbound(164)
	is.True(ok)
	is.Equal(walk.Descriptor.Size, protocol.VarShort)
	is.Equal(walk.Fields()[0].Transformer.Order(), protocol.InverseMiddleEndian)

	resp, ok := table.Outbound("login_response")
	is.True(ok)
	is.Equal(resp.Descriptor, protocol.Descriptor{Opcode: 3, Size: protocol.Static(9)})
}

// A table built from a schema encodes and decodes.
func TestTableSpeaks(t *testing.T) {
	is := is.New(t)

	f, err := schema.Load(filepath.Join("testdata", "game.yaml"))
	is.NoErr(err)
	server, err := f.Table()
	is.NoErr(err)
	client, err := server.Reverse()
	is.NoErr(err)

	walk, _ := server.Inbound(164)
	p := protocol.NewBuilder("walk", walk.Descriptor).
		Int32("x", 3200).
		Int32("y", -3200).
		Int8("running", 1).
		Build()

	buf := protocol.NewBuffer(64)
	is.NoErr(codec.NewEncoder(client, nil).Encode(p, buf))

	got, err := codec.NewDecoder(server, nil).Decode(buf)
	is.NoErr(err)
	is.True(got.Equal(p))
}

func TestValidationCollectsErrors(t *testing.T) {
	is := is.New(t)

	src := `
inbound:
  - name: broken
    opcode: 300
    fields:
      - name: a
        type: int128
      - name: b
        type: int16
        transformer:
          order: middle
  - name: fine
    opcode: 1
    size: 1
    fields:
      - name: a
        type: int8
  - name: clash
    opcode: 1
    size: 1
    fields:
      - name: a
        type: int8
`
	f, err := schema.Parse(strings.NewReader(src))
	is.NoErr(err)

	_, err = f.Table()
	is.True(errors.Is(err, schema.ErrInvalid))
	is.True(errors.Is(err, codec.ErrInvalidCodec))
	is.True(errors.Is(err, protocol.ErrInvalidTransformer))

	msg := err.Error()
	is.True(strings.Contains(msg, "opcode 300 out of range"))
	is.True(strings.Contains(msg, "missing size"))
	is.True(strings.Contains(msg, `unknown block type "int128"`))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	is := is.New(t)

	_, err := schema.Parse(strings.NewReader("inbound:\n  - name: a\n    opcod: 1\n"))
	is.True(err != nil)

	f, err := schema.Parse(strings.NewReader(""))
	is.NoErr(err)
	is.Equal(len(f.Packets()), 0)
}

func TestFromTable(t *testing.T) {
	is := is.New(t)

	f, err := schema.Load(filepath.Join("testdata", "game.yaml"))
	is.NoErr(err)
	table, err := f.Table()
	is.NoErr(err)

	data, err := schema.FromTable(table).Marshal()
	is.NoErr(err)

	again, err := schema.Parse(strings.NewReader(string(data)))
	is.NoErr(err)
	againTable, err := again.Table()
	is.NoErr(err)

	is.Equal(len(againTable.InboundCodecs()), len(table.InboundCodecs()))
	for _, c := range table.InboundCodecs() {
		other, ok := againTable.Inbound(c.Descriptor.Opcode)
		is.True(ok)
		is.Equal(other.Name, c.Name)
		is.Equal(other.Fields(), c.Fields())
	}
}

func TestSQL(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f, err := schema.Load(filepath.Join("testdata", "game.yaml"))
	is.NoErr(err)

	db, err := schema.OpenDB(filepath.Join(t.TempDir(), "schema.db"))
	is.NoErr(err)
	defer db.Close()

	is.NoErr(schema.Save(ctx, db, f))
	// saving again replaces
	is.NoErr(schema.Save(ctx, db, f))

	loaded, err := schema.LoadSQL(ctx, db)
	is.NoErr(err)
	is.Equal(len(loaded.Inbound), len(f.Inbound))
	is.Equal(len(loaded.Outbound), len(f.Outbound))

	table, err := loaded.Table()
	is.NoErr(err)
	login, ok := table.Inbound(16)
	is.True(ok)
	is.Equal(len(login.Fields()), 3)
	is.Equal(login.Fields()[0].Transformer.Translation(), protocol.TranslateA)
	is.Equal(login.Fields()[2].Terminator, byte(10))

	_, ok = table.Outbound("chat")
	is.True(ok)
}
