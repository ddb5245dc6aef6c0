package netserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/event"
	"github.com/blukai/nova/internal/isaac"
	"github.com/blukai/nova/internal/metrics"
	"github.com/blukai/nova/internal/protocol"
	"github.com/blukai/nova/internal/service"
	"github.com/blukai/nova/internal/workqueue"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// ReactorID is the service id the reactor registers under.
const ReactorID = 0

// requiredKinds are the events a reactor can not serve without.
var requiredKinds = []event.Kind{
	event.KindAccept,
	event.KindReadable,
	event.KindWritable,
	event.KindPacketParsed,
}

// CipherFactory returns the keystreams of a new connection. Either may be
// nil.
type CipherFactory func(id ConnID) (decode, encode codec.Keystream)

// SeededCiphers gives every connection streams derived from seed: inbound
// opcodes are offset by isaac(seed), outbound ones by isaac(seed+50).
func SeededCiphers(seed []uint32) CipherFactory {
	return func(ConnID) (codec.Keystream, codec.Keystream) {
		return isaac.New(seed), isaac.New(isaac.Offset(seed, 50))
	}
}

type Options struct {
	// Table is required. Inbound codecs decode what clients send, outbound
	// ones encode replies.
	Table *codec.Table
	// Messages translates packets to messages. Packets without a decoder
	// end up in Client.Incoming.
	Messages *codec.Messages
	// Services receive decoded messages, looked up by Client.Service.
	Services *service.Registry
	// DefaultService is the service new clients start in.
	DefaultService uint32

	// Executor runs packet propagation. When nil a pool of Workers
	// goroutines is started and stopped with the reactor.
	Executor      workqueue.Executor
	Workers       int
	TasksPerGroup int
	// Backlog is how many groups may wait for a worker. Poll blocks
	// submitting while it is full. Defaults to twice Workers.
	Backlog       int

	InputBufferSize  int
	OutputBufferSize int
	ReadChunkSize    int
	IncomingQueue    int
	WriteTimeout     time.Duration
	// MaxBatch bounds the readiness handled per iteration.
	MaxBatch int

	Ciphers CipherFactory
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

func (o *Options) setDefaults() {
	if o.Messages == nil {
		o.Messages = codec.NewMessages()
	}
	if o.Services == nil {
		o.Services = service.NewRegistry()
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Backlog <= 0 {
		o.Backlog = o.Workers * 2
	}
	if o.TasksPerGroup <= 0 {
		o.TasksPerGroup = workqueue.DefaultGroupSize
	}
	if o.InputBufferSize <= 0 {
		o.InputBufferSize = 5000
	}
	if o.OutputBufferSize <= 0 {
		o.OutputBufferSize = 5000
	}
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = 2048
	}
	if o.IncomingQueue <= 0 {
		o.IncomingQueue = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 1024
	}
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if o.Logger == nil {
		tmp := log.DefaultLogger
		o.Logger = &tmp
		o.Logger.Writer = &log.IOWriter{Writer: io.Discard}
	}
}

// Reactor owns the listener and every connection. One goroutine, the one
// calling Run, turns readiness into events and handles socket events inline;
// decoded packets are propagated on the executor in partitioned groups,
// without waiting for them before the next poll.
type Reactor struct {
	events *event.Dispatcher

	opts     Options
	logger   *log.Logger
	metrics  *metrics.Metrics
	listener net.Listener
	poller   *poller
	clients  *ClientPool

	queue    *workqueue.Partitioned
	executor workqueue.Executor
	pool     *workqueue.Pool // set when the reactor owns the executor

	batch   []readiness
	nextID  atomic.Uint64
	started time.Time
	wg      sync.WaitGroup
}

var _ service.Service = (*Reactor)(nil)

func NewReactor(network, address string, opts Options) (*Reactor, error) {
	if opts.Table == nil {
		return nil, errors.New("missing codec table")
	}
	opts.setDefaults()

	lc := listenConfig()
	listener, err := lc.Listen(context.Background(), network, address)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %w", err)
	}

	r := &Reactor{
		events: event.NewDispatcher(),

		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		listener: listener,
		poller:   newPoller(opts.MaxBatch),
		clients:  NewClientPool(),

		queue:    workqueue.NewPartitioned(opts.TasksPerGroup, opts.Logger),
		executor: opts.Executor,
	}
	if r.executor == nil {
		r.pool = workqueue.NewPool(opts.Workers, opts.Backlog, opts.Logger)
		r.executor = r.pool
	}

	// Run refuses to start until something handles these, see
	// RegisterDefaults.
	for _, kind := range requiredKinds {
		r.events.AddRequiredEvent(kind)
	}

	return r, nil
}

// Addr can be useful to retrieve the server's address when the reactor was
// constructed with ":0".
func (r *Reactor) Addr() net.Addr { return r.listener.Addr() }

func (r *Reactor) Descriptor() service.Descriptor {
	return service.Descriptor{Name: "reactor", ID: ReactorID}
}

func (r *Reactor) Dispatcher() *event.Dispatcher { return r.events }

// RegisterHandler appends h to the reactor's chain for kind.
func (r *Reactor) RegisterHandler(kind event.Kind, name string, h event.Handler) bool {
	return r.events.RegisterHandler(kind, name, h)
}

func (r *Reactor) Clients() *ClientPool { return r.clients }

func (r *Reactor) Connections() int { return r.clients.Len() }

func (r *Reactor) Services() *service.Registry { return r.opts.Services }

// Uptime returns how long Run has been running, or 0.
func (r *Reactor) Uptime() time.Duration {
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}

func (r *Reactor) newClient(conn net.Conn) *Client {
	id := ConnID(r.nextID.Add(1))

	var decode, encode codec.Keystream
	if r.opts.Ciphers != nil {
		decode, encode = r.opts.Ciphers(id)
	}

	c := &Client{
		id:     id,
		conn:   conn,
		remote: conn.RemoteAddr().String(),

		in:      protocol.NewBuffer(r.opts.InputBufferSize),
		decoder: codec.NewDecoder(r.opts.Table, decode),

		out:     protocol.NewBuffer(r.opts.OutputBufferSize),
		encoder: codec.NewEncoder(r.opts.Table, encode),

		messages: r.opts.Messages,
		incoming: make(chan *protocol.Packet, r.opts.IncomingQueue),
		interest: r.poller.interest,
		flushCh:  make(chan struct{}, 1),

		done: make(chan struct{}),

		logger:  r.logger,
		metrics: r.metrics,
	}
	c.service.Store(r.opts.DefaultService)
	return c
}

func (r *Reactor) accept(ctx context.Context) {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-r.poller.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Error().Err(err).Msg("could not accept")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !r.poller.post(ctx.Done(), readiness{kind: event.KindAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

// read feeds one connection's bytes to the poller until the connection
// fails or is closed.
func (r *Reactor) read(c *Client) {
	defer r.wg.Done()

	for {
		buf := make([]byte, r.opts.ReadChunkSize)
		n, err := c.conn.Read(buf)
		if n > 0 {
			if !r.poller.post(c.done, readiness{kind: event.KindReadable, id: c.id, data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			r.poller.post(c.done, readiness{kind: event.KindReadable, id: c.id, err: err})
			return
		}
	}
}

// write flushes one connection's output whenever the reactor asks for it, so
// a peer that stops reading stalls nobody but itself.
func (r *Reactor) write(c *Client) {
	defer r.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.flushCh:
		}
		if err := r.drain(c); err != nil {
			c.Disconnect(err)
			return
		}
	}
}

// drain flushes until c's output is empty. A write that times out after
// making progress is retried, one that makes none fails.
func (r *Reactor) drain(c *Client) error {
	for {
		n, left, err := c.flush(r.opts.WriteTimeout)
		if err != nil {
			var ne net.Error
			if n > 0 && errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !left {
			return nil
		}
	}
}

func (r *Reactor) toEvent(rd readiness) (event.Event, bool) {
	if rd.kind == event.KindAccept {
		return AcceptEvent{Client: r.newClient(rd.conn)}, true
	}

	// the connection may be gone by the time its readiness is handled
	c, ok := r.clients.Get(rd.id)
	if !ok {
		return nil, false
	}
	switch rd.kind {
	case event.KindReadable:
		return ReadableEvent{Client: c, Data: rd.data, Err: rd.err}, true
	case event.KindWritable:
		return WritableEvent{Client: c}, true
	}
	return nil, false
}

// propagate queues a packet for the executor.
func (r *Reactor) propagate(c *Client, p *protocol.Packet) {
	ev := PacketParsedEvent{Client: c, Packet: p}
	r.queue.Add(func() { r.events.HandleEvent(ev) })
}

// Poll runs one iteration: wait for readiness, handle socket events, submit
// the packet events they produced. It does not wait for submitted work.
func (r *Reactor) Poll(ctx context.Context) error {
	batch, err := r.poller.wait(ctx, r.batch[:0], r.opts.MaxBatch)
	r.batch = batch
	if err != nil {
		return err
	}

	start := time.Now()
	for _, rd := range batch {
		if ev, ok := r.toEvent(rd); ok {
			r.events.HandleEvent(ev)
		}
	}
	// don't hold on to read buffers until the next iteration
	clear(r.batch)

	tasks := r.queue.Len()
	groups, err := r.queue.Execute(r.executor)
	r.metrics.Polled(time.Since(start), tasks, groups)
	return err
}

// Run serves until ctx is done. It refuses to start when a required event
// kind has no handlers, see RegisterDefaults.
func (r *Reactor) Run(ctx context.Context) error {
	if err := service.Check(r); err != nil {
		return err
	}

	r.started = time.Now()
	r.logger.Info().Msgf("reactor listening on %s", r.Addr())

	r.wg.Add(1)
	go r.accept(ctx)

	var runErr error
	for {
		if err := r.Poll(ctx); err != nil {
			if ctx.Err() == nil {
				runErr = err
			}
			break
		}
	}

	return multierror.Append(runErr, r.shutdown()).ErrorOrNil()
}

func (r *Reactor) shutdown() error {
	var errs error

	r.poller.close()
	if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierror.Append(errs, fmt.Errorf("could not close listener: %w", err))
	}

	for _, c := range r.clients.Snapshot() {
		c.Disconnect(ErrServerShutdown)
	}

	// in-flight groups finish, nothing new is submitted
	if r.pool != nil {
		r.pool.Stop()
	}

	r.wg.Wait()

	// nothing posts anymore; close what was accepted but never polled
	for drained := false; !drained; {
		select {
		case rd := <-r.poller.ready:
			if rd.conn != nil {
				rd.conn.Close()
			}
		default:
			drained = true
		}
	}

	r.logger.Info().Msg("reactor stopped")
	return errs
}
