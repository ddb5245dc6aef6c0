package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

type SizeKind uint8

const (
	SizeStatic SizeKind = iota
	SizeVarByte
	SizeVarShort
)

// SizePolicy tells how a frame's payload length is known: fixed by the
// schema, or carried in a 1 or 2 byte prefix.
type SizePolicy struct {
	Kind   SizeKind
	Length uint32
}

var (
	VarByte  = SizePolicy{Kind: SizeVarByte}
	VarShort = SizePolicy{Kind: SizeVarShort}
)

func Static(length uint32) SizePolicy {
	return SizePolicy{Kind: SizeStatic, Length: length}
}

// PrefixLen returns the number of length prefix bytes on the wire.
func (p SizePolicy) PrefixLen() int {
	switch p.Kind {
	case SizeVarByte:
		return 1
	case SizeVarShort:
		return 2
	default:
		return 0
	}
}

// MaxLen returns the largest payload the policy can frame.
func (p SizePolicy) MaxLen() int {
	switch p.Kind {
	case SizeVarByte:
		return 0xFF
	case SizeVarShort:
		return 0xFFFF
	default:
		return int(p.Length)
	}
}

func (p SizePolicy) String() string {
	switch p.Kind {
	case SizeVarByte:
		return "VAR_BYTE"
	case SizeVarShort:
		return "VAR_SHORT"
	default:
		return strconv.FormatUint(uint64(p.Length), 10)
	}
}

// ParseSizePolicy accepts the notation String produces.
func ParseSizePolicy(s string) (SizePolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VAR_BYTE":
		return VarByte, nil
	case "VAR_SHORT":
		return VarShort, nil
	case "":
		return SizePolicy{}, fmt.Errorf("missing size")
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return SizePolicy{}, fmt.Errorf("could not parse size %q: %w", s, err)
	}
	return Static(uint32(n)), nil
}

// Descriptor identifies a frame layout on the wire. It is a plain value, so
// two descriptors are equal when opcode and size policy are.
type Descriptor struct {
	Opcode uint8
	Size   SizePolicy
}

func (d Descriptor) String() string {
	return fmt.Sprintf("opcode=%d size=%s", d.Opcode, d.Size)
}
