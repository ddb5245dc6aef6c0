package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blukai/nova/internal/byteorder"
)

var ErrInvalidTransformer = errors.New("protocol: invalid transformer")

// Translation is applied to the least significant byte of a value.
type Translation uint8

const (
	TranslateNone Translation = iota
	// A adds 128
	TranslateA
	// C negates
	TranslateC
	// S subtracts from 128
	TranslateS
)

func (t Translation) String() string {
	switch t {
	case TranslateNone:
		return "none"
	case TranslateA:
		return "A"
	case TranslateC:
		return "C"
	case TranslateS:
		return "S"
	}
	return fmt.Sprintf("Translation(%d)", uint8(t))
}

func ParseTranslation(s string) (Translation, error) {
	switch strings.ToUpper(s) {
	case "", "NONE":
		return TranslateNone, nil
	case "A":
		return TranslateA, nil
	case "C":
		return TranslateC, nil
	case "S":
		return TranslateS, nil
	}
	return 0, fmt.Errorf("unknown translation %q", s)
}

func (t Translation) forward(b byte) byte {
	switch t {
	case TranslateA:
		return b + 128
	case TranslateC:
		return -b
	case TranslateS:
		return 128 - b
	}
	return b
}

func (t Translation) inverse(b byte) byte {
	switch t {
	case TranslateA:
		return b - 128
	case TranslateC:
		return -b
	case TranslateS:
		return 128 - b
	}
	return b
}

type ByteOrder uint8

const (
	BigEndian ByteOrder = iota
	LittleEndian
	// MiddleEndian swaps the 16 bit halves of a 32 bit value.
	MiddleEndian
	// InverseMiddleEndian swaps the bytes within each 16 bit half.
	InverseMiddleEndian
)

func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big"
	case LittleEndian:
		return "little"
	case MiddleEndian:
		return "middle"
	case InverseMiddleEndian:
		return "inverse_middle"
	}
	return fmt.Sprintf("ByteOrder(%d)", uint8(o))
}

func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "", "big":
		return BigEndian, nil
	case "little":
		return LittleEndian, nil
	case "middle":
		return MiddleEndian, nil
	case "inverse_middle":
		return InverseMiddleEndian, nil
	}
	return 0, fmt.Errorf("unknown byte order %q", s)
}

// permute rearranges network ordered buf into o. Every order is its own
// inverse.
func (o ByteOrder) permute(buf []byte) {
	switch o {
	case LittleEndian:
		byteorder.Reverse(buf)
	case MiddleEndian:
		byteorder.SwapHalves(buf)
	case InverseMiddleEndian:
		byteorder.SwapWithinHalves(buf)
	}
}

// lsb returns where the least significant byte of a width sized value ends up
// after permute.
func (o ByteOrder) lsb(width int) int {
	switch o {
	case LittleEndian:
		return 0
	case MiddleEndian:
		return 1
	case InverseMiddleEndian:
		return 2
	}
	return width - 1
}

// Transformer is a reversible rewrite of a numeric value: a byte order
// permutation plus a translation of the value's least significant byte.
// Translation always targets that byte wherever the order puts it, so the two
// steps commute.
type Transformer struct {
	typ   BlockType
	tr    Translation
	order ByteOrder
}

func NewTransformer(typ BlockType, tr Translation, order ByteOrder) (Transformer, error) {
	if !typ.Numeric() {
		return Transformer{}, fmt.Errorf("%w: %s values can not be transformed", ErrInvalidTransformer, typ)
	}
	if tr > TranslateS {
		return Transformer{}, fmt.Errorf("%w: %s", ErrInvalidTransformer, tr)
	}
	switch order {
	case BigEndian, LittleEndian:
	case MiddleEndian, InverseMiddleEndian:
		if typ != Int32 {
			return Transformer{}, fmt.Errorf("%w: %s order requires int32, got %s", ErrInvalidTransformer, order, typ)
		}
	default:
		return Transformer{}, fmt.Errorf("%w: %s", ErrInvalidTransformer, order)
	}
	return Transformer{typ: typ, tr: tr, order: order}, nil
}

func (t Transformer) Type() BlockType          { return t.typ }
func (t Transformer) Translation() Translation { return t.tr }
func (t Transformer) Order() ByteOrder         { return t.order }

// Identity reports whether Encode and Decode return their input unchanged.
func (t Transformer) Identity() bool {
	return t.tr == TranslateNone && t.order == BigEndian
}

// Encode lays v out in network order, applies the byte order and then the
// translation.
func (t Transformer) Encode(v int64) int64 {
	w := t.typ.Width()
	var scratch [8]byte
	buf := scratch[:w]
	byteorder.PutUint(buf, uint64(v))

	t.order.permute(buf)
	i := t.order.lsb(w)
	buf[i] = t.tr.forward(buf[i])

	return SignExtend(byteorder.Uint(buf), w)
}

// Decode undoes the translation first and then the byte order.
func (t Transformer) Decode(v int64) int64 {
	w := t.typ.Width()
	var scratch [8]byte
	buf := scratch[:w]
	byteorder.PutUint(buf, uint64(v))

	i := t.order.lsb(w)
	buf[i] = t.tr.inverse(buf[i])
	t.order.permute(buf)

	return SignExtend(byteorder.Uint(buf), w)
}

func (t Transformer) String() string {
	return fmt.Sprintf("%s/%s/%s", t.typ, t.tr, t.order)
}
