package netserver

import (
	"github.com/blukai/nova/internal/event"
	"github.com/blukai/nova/internal/protocol"
)

// ConnID identifies a connection for its whole life. Ids are never reused,
// unlike the file descriptors underneath.
type ConnID uint64

// socketEvent is implemented by every readiness event.
type socketEvent interface {
	event.Event
	client() *Client
}

type AcceptEvent struct {
	Client *Client
}

func (AcceptEvent) Kind() event.Kind   { return event.KindAccept }
func (e AcceptEvent) client() *Client { return e.Client }

// ReadableEvent carries the bytes of one read. Err is set when the read
// failed; Data may still hold what was read before the failure.
type ReadableEvent struct {
	Client *Client
	Data   []byte
	Err    error
}

func (ReadableEvent) Kind() event.Kind   { return event.KindReadable }
func (e ReadableEvent) client() *Client { return e.Client }

type WritableEvent struct {
	Client *Client
}

func (WritableEvent) Kind() event.Kind   { return event.KindWritable }
func (e WritableEvent) client() *Client { return e.Client }

type PacketParsedEvent struct {
	Client *Client
	Packet *protocol.Packet
}

func (PacketParsedEvent) Kind() event.Kind { return event.KindPacketParsed }
