package netserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/metrics"
	"github.com/blukai/nova/internal/protocol"
	"github.com/blukai/nova/internal/service"
	"github.com/phuslu/log"
)

// DisconnectListener is told, exactly once, that a client is going away. It
// runs before the connection is closed, on whichever goroutine called
// Disconnect.
type DisconnectListener func(c *Client, reason error)

// Client is one live connection.
//
// The input side (in, decoder) is touched only by the reactor goroutine. The
// output side is shared with workers replying to messages and guarded by
// outMu, which also keeps frames in the order they were sent.
type Client struct {
	id     ConnID
	conn   net.Conn
	remote string

	in      *protocol.Buffer
	decoder *codec.Decoder

	outMu   sync.Mutex
	out     *protocol.Buffer
	encoder *codec.Encoder
	// writer goroutine only, reused between flushes
	flushBuf []byte
	flushCh  chan struct{}

	messages *codec.Messages
	incoming chan *protocol.Packet
	service  atomic.Uint32

	// interest asks the reactor for a writable event.
	interest func(ConnID)

	closed      atomic.Bool
	done        chan struct{}
	listenersMu sync.Mutex
	listeners   []DisconnectListener

	logger  *log.Logger
	metrics *metrics.Metrics
}

var _ service.Session = (*Client)(nil)

func (c *Client) ID() uint64 { return uint64(c.id) }

func (c *Client) ConnID() ConnID { return c.id }

func (c *Client) RemoteAddr() string { return c.remote }

// Service returns the id of the service decoded messages are dispatched to.
func (c *Client) Service() uint32 { return c.service.Load() }

// SetService moves the client to another service, e.g. from login to game.
func (c *Client) SetService(id uint32) { c.service.Store(id) }

// Incoming holds packets that no message decoder claimed.
func (c *Client) Incoming() <-chan *protocol.Packet { return c.incoming }

// Done is closed when the client disconnects.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Closed() bool { return c.closed.Load() }

// Send encodes p into the output buffer; the client's writer sends it after
// the next writable event. It is safe to call from any goroutine.
func (c *Client) Send(p *protocol.Packet) error {
	if c.Closed() {
		return ErrClientClosed
	}

	c.outMu.Lock()
	err := c.encoder.Encode(p, c.out)
	c.outMu.Unlock()
	if err != nil {
		if errors.Is(err, protocol.ErrBufferFull) {
			return fmt.Errorf("could not send %s: %w", p.Name, ErrOutputOverflow)
		}
		return fmt.Errorf("could not send %s: %w", p.Name, err)
	}

	c.metrics.Encoded(p.Name)
	c.interest(c.id)
	return nil
}

func (c *Client) WriteMessage(msg codec.Message) error {
	p, err := c.messages.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(p)
}

// OnDisconnect adds a listener. Listeners added after the client is gone run
// right away.
func (c *Client) OnDisconnect(l DisconnectListener) {
	c.listenersMu.Lock()
	if !c.Closed() {
		c.listeners = append(c.listeners, l)
		c.listenersMu.Unlock()
		return
	}
	c.listenersMu.Unlock()
	l(c, ErrClientClosed)
}

// Disconnect notifies the listeners and closes the connection. Only the first
// call does anything.
func (c *Client) Disconnect(reason error) {
	c.listenersMu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.listenersMu.Unlock()
		return
	}
	listeners := c.listeners
	c.listeners = nil
	c.listenersMu.Unlock()

	close(c.done)

	for _, l := range listeners {
		l(c, reason)
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().
			Uint64("conn", uint64(c.id)).
			Err(err).
			Msg("could not close conn")
	}
}

// enqueue hands p to whoever drains Incoming. A full queue drops p.
func (c *Client) enqueue(p *protocol.Packet) bool {
	select {
	case c.incoming <- p:
		return true
	default:
		return false
	}
}

// kick wakes the writer goroutine. It never blocks.
func (c *Client) kick() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

// flush writes out whatever is buffered and reports how much went out and
// whether bytes are left over. Writer goroutine only.
func (c *Client) flush(timeout time.Duration) (int, bool, error) {
	c.outMu.Lock()
	c.flushBuf = append(c.flushBuf[:0], c.out.Bytes()...)
	c.outMu.Unlock()

	if len(c.flushBuf) == 0 {
		return 0, false, nil
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return 0, false, err
	}
	n, err := c.conn.Write(c.flushBuf)
	c.metrics.Written(n)

	// NOTE: Send only ever appends, so whatever was written is still at
	// the head of out.
	c.outMu.Lock()
	c.out.Skip(n)
	left := c.out.Len() > 0
	c.out.Compact()
	c.outMu.Unlock()

	return n, left, err
}
