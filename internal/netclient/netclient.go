package netclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/debug"
	"github.com/blukai/nova/internal/isaac"
	"github.com/blukai/nova/internal/protocol"
	"github.com/phuslu/log"
)

var (
	ErrTimeout = errors.New("netclient: timeout reached")
	ErrClosed  = errors.New("netclient: connection closed")
)

// SeededCiphers returns the keystreams matching the server side of
// netserver.SeededCiphers: what the server decodes with, the client encodes
// with, and the other way around.
func SeededCiphers(seed []uint32) (decode, encode codec.Keystream) {
	return isaac.New(isaac.Offset(seed, 50)), isaac.New(seed)
}

type Options struct {
	// Table is the server's table; the client works with its reverse.
	Table *codec.Table
	// Messages is optional, needed by SendMessage and RecvMessage.
	Messages *codec.Messages

	Decode codec.Keystream
	Encode codec.Keystream

	BufferSize  int
	SendTimeout time.Duration
	RecvTimeout time.Duration

	Logger *log.Logger
}

// Client speaks the framed protocol to a server over tcp.
type Client struct {
	conn net.Conn

	logger   *log.Logger
	messages *codec.Messages

	sendMu  sync.Mutex
	encoder *codec.Encoder
	out     *protocol.Buffer

	decoder *codec.Decoder
	in      *protocol.Buffer
	readBuf []byte

	recvCh chan *protocol.Packet
	done   chan struct{}
	errMu  sync.Mutex
	err    error

	sendTimeout time.Duration
	recvTimeout time.Duration
}

func Dial(network, address string, opts Options) (*Client, error) {
	if opts.Table == nil {
		return nil, errors.New("missing codec table")
	}
	table, err := opts.Table.Reverse()
	if err != nil {
		return nil, fmt.Errorf("could not reverse codec table: %w", err)
	}

	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", network, err)
	}

	logger := opts.Logger
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 5000
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = time.Second
	}
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = time.Second
	}
	if opts.Messages == nil {
		opts.Messages = codec.NewMessages()
	}

	c := &Client{
		conn: conn,

		logger:   logger,
		messages: opts.Messages,

		encoder: codec.NewEncoder(table, opts.Encode),
		out:     protocol.NewBuffer(opts.BufferSize),

		decoder: codec.NewDecoder(table, opts.Decode),
		in:      protocol.NewBuffer(opts.BufferSize),
		readBuf: make([]byte, 2048),

		recvCh: make(chan *protocol.Packet, 64),
		done:   make(chan struct{}),

		sendTimeout: opts.SendTimeout,
		recvTimeout: opts.RecvTimeout,
	}
	return c, nil
}

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Err returns why the connection stopped being read, once it did.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed when the connection stops being read.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) fail(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	close(c.done)
}

func (c *Client) runRecv(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.fail(ctx.Err())
			return
		default:
		}

		err := c.conn.SetReadDeadline(time.Now().Add(c.recvTimeout))
		debug.Assert(err == nil || errors.Is(err, net.ErrClosed))

		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			if _, werr := c.in.Write(c.readBuf[:n]); werr != nil {
				c.fail(fmt.Errorf("could not buffer input: %w", werr))
				return
			}
			_, derr := c.decoder.DecodeAll(c.in, func(p *protocol.Packet) {
				c.logger.Debug().
					Str("packet", p.String()).
					Msg("recv")
				select {
				case c.recvCh <- p:
				case <-ctx.Done():
				}
			})
			if derr != nil {
				c.fail(fmt.Errorf("could not decode: %w", derr))
				return
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			c.fail(err)
			return
		}
	}
}

// Run reads from the connection until ctx is done or the server goes away,
// then closes the connection.
func (c *Client) Run(ctx context.Context) error {
	c.runRecv(ctx)

	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) Close() error { return c.conn.Close() }

// Send is blocking: it returns once the frame has been written.
func (c *Client) Send(p *protocol.Packet) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.out.Clear()
	if err := c.encoder.Encode(p, c.out); err != nil {
		return fmt.Errorf("could not encode %s: %w", p.Name, err)
	}
	c.logger.Debug().
		Str("packet", p.String()).
		Msg("send")

	return c.write(c.out.Bytes())
}

// WriteRaw writes b as is, bypassing the encoder.
func (c *Client) WriteRaw(b []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.write(b)
}

func (c *Client) write(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("could not write: %w", err)
	}
	return nil
}

// Recv returns the next packet, waiting up to the receive timeout.
func (c *Client) Recv() (*protocol.Packet, error) {
	select {
	case p := <-c.recvCh:
		return p, nil
	default:
	}

	select {
	case p := <-c.recvCh:
		return p, nil
	case <-c.done:
		// packets decoded before the failure are still handed out
		select {
		case p := <-c.recvCh:
			return p, nil
		default:
		}
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return nil, ErrClosed
	case <-time.After(c.recvTimeout):
		return nil, ErrTimeout
	}
}

// Expect is Recv that fails unless the packet is called name.
func (c *Client) Expect(name string) (*protocol.Packet, error) {
	p, err := c.Recv()
	if err != nil {
		return nil, fmt.Errorf("could not recv: %w", err)
	}
	if p.Name != name {
		return nil, fmt.Errorf("received unexpected packet back (got %s; want %s)", p.Name, name)
	}
	return p, nil
}

func (c *Client) SendMessage(msg codec.Message) error {
	p, err := c.messages.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(p)
}

// RecvMessage receives a packet and decodes it with the registered message
// decoders.
func (c *Client) RecvMessage() (codec.Message, error) {
	p, err := c.Recv()
	if err != nil {
		return nil, fmt.Errorf("could not recv: %w", err)
	}
	msg, ok, err := c.messages.Decode(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", codec.ErrUnknownMessage, p.Name)
	}
	return msg, nil
}
