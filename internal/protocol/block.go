package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/blukai/nova/internal/byteorder"
)

var ErrUnterminatedString = errors.New("protocol: unterminated string")

type BlockType uint8

const (
	_ BlockType = iota
	Int8
	Int16
	Int24
	Int32
	Int64
	String
)

var blockTypeNames = [...]string{
	Int8:   "int8",
	Int16:  "int16",
	Int24:  "int24",
	Int32:  "int32",
	Int64:  "int64",
	String: "string",
}

func (t BlockType) String() string {
	if int(t) < len(blockTypeNames) && blockTypeNames[t] != "" {
		return blockTypeNames[t]
	}
	return fmt.Sprintf("BlockType(%d)", uint8(t))
}

func ParseBlockType(s string) (BlockType, error) {
	for t, name := range blockTypeNames {
		if name != "" && strings.EqualFold(name, s) {
			return BlockType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown block type %q", s)
}

// Width returns the encoded size of numeric types. Strings have no fixed
// width and report 0.
func (t BlockType) Width() int {
	switch t {
	case Int8:
		return 1
	case Int16:
		return 2
	case Int24:
		return 3
	case Int32:
		return 4
	case Int64:
		return 8
	default:
		return 0
	}
}

func (t BlockType) Numeric() bool { return t.Width() > 0 }

// SignExtend interprets the low width bytes of v as a two's complement
// number.
func SignExtend(v uint64, width int) int64 {
	shift := 64 - 8*uint(width)
	return int64(v<<shift) >> shift
}

// Block is a single typed field value. Int is used by numeric types, Str and
// Terminator by String.
type Block struct {
	Type       BlockType
	Int        int64
	Str        string
	Terminator byte
}

// Int builds a numeric block. v is truncated to the type's width the same
// way it would be on the wire.
func Int(t BlockType, v int64) Block {
	if w := t.Width(); w > 0 {
		v = SignExtend(uint64(v), w)
	}
	return Block{Type: t, Int: v}
}

func Str(s string, terminator byte) Block {
	return Block{Type: String, Str: s, Terminator: terminator}
}

// Len returns the number of bytes Encode will write.
func (b Block) Len() int {
	if b.Type == String {
		return len(b.Str) + 1
	}
	return b.Type.Width()
}

func (b Block) Encode(buf *Buffer) error {
	if b.Type == String {
		if strings.IndexByte(b.Str, b.Terminator) >= 0 {
			return fmt.Errorf("string contains its own terminator 0x%02x", b.Terminator)
		}
		p := make([]byte, 0, len(b.Str)+1)
		p = append(p, b.Str...)
		p = append(p, b.Terminator)
		_, err := buf.Write(p)
		return err
	}

	w := b.Type.Width()
	if w == 0 {
		return fmt.Errorf("could not encode %s block", b.Type)
	}
	var scratch [8]byte
	byteorder.PutUint(scratch[:w], uint64(b.Int))
	_, err := buf.Write(scratch[:w])
	return err
}

// DecodeBlock consumes one block of type t from buf. A missing string
// terminator is reported as ErrUnterminatedString rather than ErrShortBuffer:
// callers decode within an already complete frame, so running out of bytes
// there means the frame is malformed.
func DecodeBlock(t BlockType, terminator byte, buf *Buffer) (Block, error) {
	if t == String {
		i := bytes.IndexByte(buf.Bytes(), terminator)
		if i < 0 {
			return Block{}, ErrUnterminatedString
		}
		p, _ := buf.Next(i + 1)
		return Str(string(p[:i]), terminator), nil
	}

	w := t.Width()
	if w == 0 {
		return Block{}, fmt.Errorf("could not decode %s block", t)
	}
	p, err := buf.Next(w)
	if err != nil {
		return Block{}, err
	}
	return Block{Type: t, Int: SignExtend(byteorder.Uint(p), w)}, nil
}

func (b Block) String() string {
	if b.Type == String {
		return fmt.Sprintf("%s(%q)", b.Type, b.Str)
	}
	return fmt.Sprintf("%s(%d)", b.Type, b.Int)
}
