package lobby

import (
	"fmt"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/protocol"
)

// Packet names the lobby expects the schema to define. Client to server:
const (
	PacketPing      = "ping"
	PacketJoin      = "join"
	PacketKeepAlive = "keep_alive"
)

// Server to client:
const (
	PacketPong    = "pong"
	PacketSetSeed = "set_seed"
)

type Ping struct{ Nonce int32 }

func (Ping) MessageName() string { return PacketPing }

type Pong struct{ Nonce int32 }

func (Pong) MessageName() string { return PacketPong }

type Join struct{ PlayerID int64 }

func (Join) MessageName() string { return PacketJoin }

type SetSeed struct{ Seed int32 }

func (SetSeed) MessageName() string { return PacketSetSeed }

type KeepAlive struct{}

func (KeepAlive) MessageName() string { return PacketKeepAlive }

// ServerMessages maps the lobby's messages onto table, the server's codec
// table.
func ServerMessages(table *codec.Table) (*codec.Messages, error) {
	pong, err := outbound(table, PacketPong)
	if err != nil {
		return nil, err
	}
	setSeed, err := outbound(table, PacketSetSeed)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{PacketPing, PacketJoin, PacketKeepAlive} {
		if !hasInbound(table, name) {
			return nil, fmt.Errorf("%w: schema has no inbound %s packet", codec.ErrUnknownPacket, name)
		}
	}

	m := codec.NewMessages()
	m.RegisterDecoder(PacketPing, decodePing)
	m.RegisterDecoder(PacketJoin, decodeJoin)
	m.RegisterDecoder(PacketKeepAlive, decodeKeepAlive)
	m.RegisterEncoder(PacketPong, func(msg codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder(PacketPong, pong).Int32("nonce", msg.(Pong).Nonce).Build(), nil
	})
	m.RegisterEncoder(PacketSetSeed, func(msg codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder(PacketSetSeed, setSeed).Int32("seed", msg.(SetSeed).Seed).Build(), nil
	})
	return m, nil
}

// ClientMessages is ServerMessages for the other end; table is still the
// server's.
func ClientMessages(table *codec.Table) (*codec.Messages, error) {
	rev, err := table.Reverse()
	if err != nil {
		return nil, err
	}
	ping, err := outbound(rev, PacketPing)
	if err != nil {
		return nil, err
	}
	join, err := outbound(rev, PacketJoin)
	if err != nil {
		return nil, err
	}
	keepAlive, err := outbound(rev, PacketKeepAlive)
	if err != nil {
		return nil, err
	}

	m := codec.NewMessages()
	m.RegisterEncoder(PacketPing, func(msg codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder(PacketPing, ping).Int32("nonce", msg.(Ping).Nonce).Build(), nil
	})
	m.RegisterEncoder(PacketJoin, func(msg codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder(PacketJoin, join).Int64("player_id", msg.(Join).PlayerID).Build(), nil
	})
	m.RegisterEncoder(PacketKeepAlive, func(codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder(PacketKeepAlive, keepAlive).Build(), nil
	})
	m.RegisterDecoder(PacketPong, func(p *protocol.Packet) (codec.Message, error) {
		nonce, err := intField(p, "nonce")
		return Pong{Nonce: int32(nonce)}, err
	})
	m.RegisterDecoder(PacketSetSeed, func(p *protocol.Packet) (codec.Message, error) {
		seed, err := intField(p, "seed")
		return SetSeed{Seed: int32(seed)}, err
	})
	return m, nil
}

func decodePing(p *protocol.Packet) (codec.Message, error) {
	nonce, err := intField(p, "nonce")
	if err != nil {
		return nil, err
	}
	return Ping{Nonce: int32(nonce)}, nil
}

func decodeJoin(p *protocol.Packet) (codec.Message, error) {
	id, err := intField(p, "player_id")
	if err != nil {
		return nil, err
	}
	return Join{PlayerID: id}, nil
}

func decodeKeepAlive(*protocol.Packet) (codec.Message, error) {
	return KeepAlive{}, nil
}

func intField(p *protocol.Packet, name string) (int64, error) {
	v, ok := p.Int(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", codec.ErrMissingField, p.Name, name)
	}
	return v, nil
}

func outbound(table *codec.Table, name string) (protocol.Descriptor, error) {
	c, ok := table.Outbound(name)
	if !ok {
		return protocol.Descriptor{}, fmt.Errorf("%w: schema has no outbound %s packet", codec.ErrUnknownPacket, name)
	}
	return c.Descriptor, nil
}

func hasInbound(table *codec.Table, name string) bool {
	for _, c := range table.InboundCodecs() {
		if c.Name == name {
			return true
		}
	}
	return false
}
