package netserver

import (
	"errors"
	"io"

	"github.com/blukai/nova/internal/event"
	"github.com/blukai/nova/internal/protocol"
	"github.com/blukai/nova/internal/service"
)

// Handler names used by RegisterDefaults.
const (
	HandlerAlive        = "alive"
	HandlerAccept       = "accept"
	HandlerRead         = "read"
	HandlerWrite        = "write"
	HandlerTrace        = "trace"
	HandlerPacketParsed = "packet_parsed"
)

// RegisterDefaults wires the handlers the reactor needs to serve clients. The
// kinds they handle are required from NewReactor on, so Run refuses to start
// without them or if one of the chains is later unregistered.
func (r *Reactor) RegisterDefaults() {
	r.events.RegisterHandler(event.KindSocket, HandlerAlive, event.HandlerFunc(r.handleAlive))
	r.events.RegisterHandler(event.KindAccept, HandlerAccept, event.HandlerFunc(r.handleAccept))
	r.events.RegisterHandler(event.KindReadable, HandlerRead, event.HandlerFunc(r.handleRead))
	r.events.RegisterHandler(event.KindWritable, HandlerWrite, event.HandlerFunc(r.handleWrite))
	r.events.RegisterHandler(event.KindPacket, HandlerTrace, event.HandlerFunc(r.handleTrace))
	r.events.RegisterHandler(event.KindPacketParsed, HandlerPacketParsed, event.HandlerFunc(r.handlePacketParsed))
}

// handleAlive keeps events of clients that already disconnected from reaching
// the more specific chains.
func (r *Reactor) handleAlive(ev event.Event, ctx *event.Context) {
	se, ok := ev.(socketEvent)
	if !ok {
		return
	}
	if c := se.client(); c.Closed() && ev.Kind() != event.KindAccept {
		ctx.Stop()
	}
}

func (r *Reactor) handleAccept(ev event.Event, _ *event.Context) {
	c := ev.(AcceptEvent).Client

	if err := r.clients.Register(c); err != nil {
		r.logger.Error().Err(err).Msg("could not register client")
		c.conn.Close()
		return
	}
	c.OnDisconnect(r.forget)
	r.metrics.Connected()

	r.logger.Debug().
		Uint64("conn", c.ID()).
		Str("remote", c.RemoteAddr()).
		Msg("accepted")

	r.wg.Add(2)
	go r.read(c)
	go r.write(c)
}

// forget is every client's first disconnect listener.
func (r *Reactor) forget(c *Client, reason error) {
	r.clients.Remove(c.id)
	r.poller.forget(c.id)
	r.metrics.Disconnected(reasonLabel(reason))

	r.logger.Debug().
		Uint64("conn", c.ID()).
		Str("remote", c.RemoteAddr()).
		Err(reason).
		Msg("disconnected")

	de := service.DisconnectEvent{Session: c, Reason: reason}
	r.events.HandleEvent(de)
	if s, ok := r.opts.Services.Get(c.Service()); ok {
		s.Dispatcher().HandleEvent(de)
	}
}

func (r *Reactor) handleRead(ev event.Event, _ *event.Context) {
	re := ev.(ReadableEvent)
	c := re.Client

	if len(re.Data) > 0 {
		r.metrics.Read(len(re.Data))
		if _, err := c.in.Write(re.Data); err != nil {
			c.Disconnect(ErrInputOverflow)
			return
		}

		_, err := c.decoder.DecodeAll(c.in, func(p *protocol.Packet) {
			r.metrics.Decoded(p.Name)
			r.propagate(c, p)
		})
		if err != nil {
			r.metrics.ProtocolError(protocolErrorLabel(err))
			r.logger.Warn().
				Uint64("conn", c.ID()).
				Err(err).
				Msg("protocol error")
			c.Disconnect(err)
			return
		}
	}

	if re.Err != nil {
		reason := re.Err
		if errors.Is(reason, io.EOF) {
			reason = ErrClosedByPeer
		}
		c.Disconnect(reason)
	}
}

// handleWrite wakes the client's writer; the reactor itself never writes.
func (r *Reactor) handleWrite(ev event.Event, _ *event.Context) {
	ev.(WritableEvent).Client.kick()
}

func (r *Reactor) handleTrace(ev event.Event, _ *event.Context) {
	pe, ok := ev.(PacketParsedEvent)
	if !ok {
		return
	}
	r.logger.Trace().
		Uint64("conn", pe.Client.ID()).
		Str("packet", pe.Packet.String()).
		Msg("parsed")
}

// handlePacketParsed turns a packet into a message and hands it to the
// client's service. It runs on the executor.
func (r *Reactor) handlePacketParsed(ev event.Event, _ *event.Context) {
	pe := ev.(PacketParsedEvent)
	c := pe.Client
	if c.Closed() {
		return
	}

	msg, ok, err := r.opts.Messages.Decode(pe.Packet)
	if err != nil {
		r.logger.Warn().
			Uint64("conn", c.ID()).
			Err(err).
			Msg("could not decode message")
		c.Disconnect(err)
		return
	}
	if !ok {
		if !c.enqueue(pe.Packet) {
			r.logger.Warn().
				Uint64("conn", c.ID()).
				Str("packet", pe.Packet.Name).
				Msg("incoming queue full, dropping packet")
		}
		return
	}

	s, ok := r.opts.Services.Get(c.Service())
	if !ok {
		r.logger.Warn().
			Uint64("conn", c.ID()).
			Uint32("service", c.Service()).
			Msg("no such service, dropping message")
		return
	}
	s.Dispatcher().HandleEvent(service.MessageEvent{Session: c, Message: msg})
}
