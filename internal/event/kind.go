package event

import "fmt"

// Kind is the closed set of things a dispatcher can be told about. Some kinds
// are categories of others; the relation is fixed in the table below rather
// than discovered at runtime.
type Kind uint8

const (
	_ Kind = iota
	// KindSocket is the category of every readiness event.
	KindSocket
	KindAccept
	KindReadable
	KindWritable
	// KindPacket is the category of every decoded packet event.
	KindPacket
	KindPacketParsed
	KindMessage
	KindDisconnect

	kindCount
)

var kindNames = [kindCount]string{
	KindSocket:       "socket",
	KindAccept:       "accept",
	KindReadable:     "readable",
	KindWritable:     "writable",
	KindPacket:       "packet",
	KindPacketParsed: "packet_parsed",
	KindMessage:      "message",
	KindDisconnect:   "disconnect",
}

// ancestors lists, most general first, the categories each kind belongs to.
var ancestors = [kindCount][]Kind{
	KindAccept:       {KindSocket},
	KindReadable:     {KindSocket},
	KindWritable:     {KindSocket},
	KindPacketParsed: {KindPacket},
}

func (k Kind) String() string {
	if k < kindCount && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Ancestors returns the categories of k, most general first. The slice must
// not be modified.
func (k Kind) Ancestors() []Kind {
	if k >= kindCount {
		return nil
	}
	return ancestors[k]
}

// Kinds returns every valid kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindSocket; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Event is an immutable record of something that happened.
type Event interface {
	Kind() Kind
}
