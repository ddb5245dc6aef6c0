package codec

import (
	"errors"
	"fmt"

	"github.com/blukai/nova/internal/protocol"
)

var ErrUnknownMessage = errors.New("codec: unknown message")

// Message is the application level view of a packet.
type Message interface {
	MessageName() string
}

type (
	MessageDecoder func(*protocol.Packet) (Message, error)
	MessageEncoder func(Message) (*protocol.Packet, error)
)

// Messages translates between packets and messages. Decoders are found by
// packet name, encoders by message name. Register everything before the
// server starts; lookups are not synchronized against registration.
type Messages struct {
	decoders map[string]MessageDecoder
	encoders map[string]MessageEncoder
}

func NewMessages() *Messages {
	return &Messages{
		decoders: make(map[string]MessageDecoder),
		encoders: make(map[string]MessageEncoder),
	}
}

func (m *Messages) RegisterDecoder(packet string, fn MessageDecoder) {
	m.decoders[packet] = fn
}

func (m *Messages) RegisterEncoder(message string, fn MessageEncoder) {
	m.encoders[message] = fn
}

// Decode returns false when no decoder is registered for p.
func (m *Messages) Decode(p *protocol.Packet) (Message, bool, error) {
	fn, ok := m.decoders[p.Name]
	if !ok {
		return nil, false, nil
	}
	msg, err := fn(p)
	if err != nil {
		return nil, true, fmt.Errorf("could not decode %s message: %w", p.Name, err)
	}
	return msg, true, nil
}

func (m *Messages) Encode(msg Message) (*protocol.Packet, error) {
	fn, ok := m.encoders[msg.MessageName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.MessageName())
	}
	return fn(msg)
}
