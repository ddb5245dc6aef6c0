package netserver_test

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/event"
	"github.com/blukai/nova/internal/netclient"
	"github.com/blukai/nova/internal/netserver"
	"github.com/blukai/nova/internal/protocol"
	"github.com/blukai/nova/internal/service"
	"github.com/matryer/is"
)

const echoService = 1

type ping struct{ Nonce int32 }

func (ping) MessageName() string { return "ping" }

type pong struct{ Nonce int32 }

func (pong) MessageName() string { return "pong" }

var (
	pingDesc = protocol.Descriptor{Opcode: 1, Size: protocol.Static(4)}
	pongDesc = protocol.Descriptor{Opcode: 2, Size: protocol.Static(4)}
	chatDesc = protocol.Descriptor{Opcode: 3, Size: protocol.VarShort}
)

func newTable(t *testing.T) *codec.Table {
	t.Helper()
	is := is.New(t)

	pingCodec, err := codec.New("ping", pingDesc, codec.FieldSpec{Name: "nonce", Type: protocol.Int32})
	is.NoErr(err)
	pongCodec, err := codec.New("pong", pongDesc, codec.FieldSpec{Name: "nonce", Type: protocol.Int32})
	is.NoErr(err)
	chatCodec, err := codec.New("chat", chatDesc, codec.FieldSpec{Name: "text", Type: protocol.String})
	is.NoErr(err)

	table := codec.NewTable()
	is.NoErr(table.AddInbound(pingCodec))
	is.NoErr(table.AddInbound(chatCodec))
	is.NoErr(table.AddOutbound(pongCodec))
	return table
}

func serverMessages() *codec.Messages {
	m := codec.NewMessages()
	m.RegisterDecoder("ping", func(p *protocol.Packet) (codec.Message, error) {
		nonce, _ := p.Int("nonce")
		return ping{Nonce: int32(nonce)}, nil
	})
	m.RegisterEncoder("pong", func(msg codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder("pong", pongDesc).Int32("nonce", msg.(pong).Nonce).Build(), nil
	})
	return m
}

func clientMessages() *codec.Messages {
	m := codec.NewMessages()
	m.RegisterEncoder("ping", func(msg codec.Message) (*protocol.Packet, error) {
		return protocol.NewBuilder("ping", pingDesc).Int32("nonce", msg.(ping).Nonce).Build(), nil
	})
	m.RegisterDecoder("pong", func(p *protocol.Packet) (codec.Message, error) {
		nonce, _ := p.Int("nonce")
		return pong{Nonce: int32(nonce)}, nil
	})
	return m
}

type fixture struct {
	r     *netserver.Reactor
	table *codec.Table

	// clients the reactor accepted, in order
	accepted chan *netserver.Client
	// disconnect reasons seen on the reactor's disconnect chain
	reasons chan error

	cancel  context.CancelFunc
	once    sync.Once
	errCh   chan error
	stopErr error
}

func start(t *testing.T, opts netserver.Options) *fixture {
	t.Helper()
	is := is.New(t)

	f := &fixture{
		table:    newTable(t),
		accepted: make(chan *netserver.Client, 16),
		reasons:  make(chan error, 16),
		errCh:    make(chan error, 1),
	}

	opts.Table = f.table
	if opts.Messages == nil {
		opts.Messages = serverMessages()
	}
	if opts.Services == nil {
		echo := service.NewBasic(service.Descriptor{Name: "echo", ID: echoService})
		echo.OnMessage("ping", func(s service.Session, msg codec.Message) {
			_ = s.WriteMessage(pong{Nonce: msg.(ping).Nonce})
		})
		opts.Services = service.NewRegistry()
		is.NoErr(opts.Services.Register(echo))
		opts.DefaultService = echoService
	}

	r, err := netserver.NewReactor("tcp", "127.0.0.1:0", opts)
	is.NoErr(err)
	r.RegisterDefaults()
	r.RegisterHandler(event.KindAccept, "test", event.HandlerFunc(func(ev event.Event, _ *event.Context) {
		f.accepted <- ev.(netserver.AcceptEvent).Client
	}))
	r.RegisterHandler(event.KindDisconnect, "test", event.HandlerFunc(func(ev event.Event, _ *event.Context) {
		f.reasons <- ev.(service.DisconnectEvent).Reason
	}))
	f.r = r

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.errCh <- r.Run(ctx) }()
	t.Cleanup(func() { f.stop() })

	return f
}

// stop cancels the reactor and returns what Run returned.
func (f *fixture) stop() error {
	f.once.Do(func() {
		f.cancel()
		f.stopErr = <-f.errCh
	})
	return f.stopErr
}

func (f *fixture) dial(t *testing.T, opts netclient.Options) *netclient.Client {
	t.Helper()
	is := is.New(t)

	opts.Table = f.table
	if opts.Messages == nil {
		opts.Messages = clientMessages()
	}
	c, err := netclient.Dial("tcp", f.r.Addr().String(), opts)
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c
}

func (f *fixture) nextClient(t *testing.T) *netserver.Client {
	t.Helper()
	select {
	case c := <-f.accepted:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no client was accepted")
		return nil
	}
}

func (f *fixture) nextReason(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.reasons:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("no client disconnected")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition was not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunRequiresDefaults(t *testing.T) {
	is := is.New(t)

	r, err := netserver.NewReactor("tcp", "127.0.0.1:0", netserver.Options{Table: newTable(t)})
	is.NoErr(err)
	is.True(!r.Dispatcher().HasMetRequirements())

	// a reactor that would serve anyway returns nil once ctx expires
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = r.Run(ctx)
	is.True(errors.Is(err, service.ErrRequirementsNotMet))
	is.NoErr(ctx.Err())
}

func TestNewReactorRequiresTable(t *testing.T) {
	is := is.New(t)

	_, err := netserver.NewReactor("tcp", "127.0.0.1:0", netserver.Options{})
	is.True(err != nil)
}

func TestPingPong(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{})
	c := f.dial(t, netclient.Options{})

	for nonce := int32(1); nonce <= 10; nonce++ {
		is.NoErr(c.SendMessage(ping{Nonce: nonce}))

		msg, err := c.RecvMessage()
		is.NoErr(err)
		is.Equal(msg, pong{Nonce: nonce})
	}

	is.True(f.r.Uptime() > 0)
}

func TestSeededCiphers(t *testing.T) {
	is := is.New(t)

	seed := []uint32{7, 8, 9, 10}
	f := start(t, netserver.Options{Ciphers: netserver.SeededCiphers(seed)})

	decode, encode := netclient.SeededCiphers(seed)
	c := f.dial(t, netclient.Options{Decode: decode, Encode: encode})

	for nonce := int32(0); nonce < 50; nonce++ {
		is.NoErr(c.SendMessage(ping{Nonce: nonce * 1000}))

		msg, err := c.RecvMessage()
		is.NoErr(err)
		is.Equal(msg, pong{Nonce: nonce * 1000})
	}
}

func TestUnknownOpcodeDisconnects(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{})
	c := f.dial(t, netclient.Options{})

	sc := f.nextClient(t)
	listened := make(chan error, 1)
	sc.OnDisconnect(func(_ *netserver.Client, reason error) {
		listened <- reason
	})

	is.NoErr(c.WriteRaw([]byte{0x7f}))

	select {
	case reason := <-listened:
		is.True(errors.Is(reason, codec.ErrUnknownOpcode))
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not run")
	}
	is.True(errors.Is(f.nextReason(t), codec.ErrUnknownOpcode))

	// the server closed the connection
	_, err := c.Recv()
	is.True(errors.Is(err, netclient.ErrClosed))
	eventually(t, func() bool { return f.r.Clients().Len() == 0 })
}

func TestDisconnectOnce(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{})
	_ = f.dial(t, netclient.Options{})
	sc := f.nextClient(t)

	var mu sync.Mutex
	calls := 0
	sc.OnDisconnect(func(*netserver.Client, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	kicked := errors.New("kicked")
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.Disconnect(kicked)
		}()
	}
	wg.Wait()

	mu.Lock()
	is.Equal(calls, 1)
	mu.Unlock()
	is.True(sc.Closed())
	is.Equal(f.nextReason(t), kicked)

	// late listeners run right away
	late := make(chan error, 1)
	sc.OnDisconnect(func(_ *netserver.Client, reason error) { late <- reason })
	is.True(errors.Is(<-late, netserver.ErrClientClosed))

	is.True(errors.Is(sc.Send(protocol.NewBuilder("pong", pongDesc).Int32("nonce", 1).Build()), netserver.ErrClientClosed))
}

func TestInputOverflow(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{InputBufferSize: 64})
	c := f.dial(t, netclient.Options{})

	// a chat frame announcing 256 bytes, more than the buffer holds
	frame := append([]byte{chatDesc.Opcode, 0x01, 0x00}, make([]byte, 100)...)
	is.NoErr(c.WriteRaw(frame))

	is.True(errors.Is(f.nextReason(t), netserver.ErrInputOverflow))
}

func TestUnclaimedPacketsAreQueued(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{})
	c := f.dial(t, netclient.Options{})
	sc := f.nextClient(t)

	is.NoErr(c.Send(protocol.NewBuilder("chat", chatDesc).String("text", "hello there").Build()))

	select {
	case p := <-sc.Incoming():
		is.Equal(p.Name, "chat")
		text, ok := p.Str("text")
		is.True(ok)
		is.Equal(text, "hello there")
	case <-time.After(2 * time.Second):
		t.Fatal("packet was not queued")
	}
}

func TestServiceSwitch(t *testing.T) {
	is := is.New(t)

	// service 2 answers pings with a negated nonce
	other := service.NewBasic(service.Descriptor{Name: "negate", ID: 2})
	other.OnMessage("ping", func(s service.Session, msg codec.Message) {
		_ = s.WriteMessage(pong{Nonce: -msg.(ping).Nonce})
	})
	echo := service.NewBasic(service.Descriptor{Name: "echo", ID: echoService})
	echo.OnMessage("ping", func(s service.Session, msg codec.Message) {
		_ = s.WriteMessage(pong{Nonce: msg.(ping).Nonce})
	})
	disconnected := make(chan uint64, 1)
	other.OnDisconnect("test", func(s service.Session, _ error) {
		disconnected <- s.ID()
	})

	services := service.NewRegistry()
	is.NoErr(services.Register(echo))
	is.NoErr(services.Register(other))

	f := start(t, netserver.Options{Services: services, DefaultService: echoService})
	c := f.dial(t, netclient.Options{})
	sc := f.nextClient(t)
	is.Equal(sc.Service(), uint32(echoService))

	is.NoErr(c.SendMessage(ping{Nonce: 5}))
	msg, err := c.RecvMessage()
	is.NoErr(err)
	is.Equal(msg, pong{Nonce: 5})

	sc.SetService(2)
	is.NoErr(c.SendMessage(ping{Nonce: 5}))
	msg, err = c.RecvMessage()
	is.NoErr(err)
	is.Equal(msg, pong{Nonce: -5})

	is.NoErr(c.Close())
	select {
	case id := <-disconnected:
		is.Equal(id, sc.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("service was not told about the disconnect")
	}
}

func TestShutdown(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{})
	clients := []*netclient.Client{
		f.dial(t, netclient.Options{}),
		f.dial(t, netclient.Options{}),
		f.dial(t, netclient.Options{}),
	}
	for range clients {
		f.nextClient(t)
	}
	is.Equal(f.r.Clients().Len(), 3)

	// one leaves on its own
	is.NoErr(clients[0].Close())
	is.True(errors.Is(f.nextReason(t), netserver.ErrClosedByPeer))
	eventually(t, func() bool { return f.r.Clients().Len() == 2 })

	is.NoErr(f.stop())
	is.True(errors.Is(f.nextReason(t), netserver.ErrServerShutdown))
	is.True(errors.Is(f.nextReason(t), netserver.ErrServerShutdown))
	is.Equal(f.r.Clients().Len(), 0)

	for _, c := range clients[1:] {
		_, err := c.Recv()
		is.True(errors.Is(err, netclient.ErrClosed))
	}
}

func TestSlowReaderDoesNotStallOthers(t *testing.T) {
	is := is.New(t)

	f := start(t, netserver.Options{WriteTimeout: 3 * time.Second})

	// connects and never reads
	slow, err := net.Dial("tcp", f.r.Addr().String())
	is.NoErr(err)
	defer slow.Close()
	ss := f.nextClient(t)

	fast := f.dial(t, netclient.Options{RecvTimeout: 5 * time.Second})
	f.nextClient(t)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		p := protocol.NewBuilder("pong", pongDesc).Int32("nonce", 0).Build()
		for {
			select {
			case <-stop:
				return
			case <-ss.Done():
				return
			default:
			}
			if err := ss.Send(p); err != nil {
				if !errors.Is(err, netserver.ErrOutputOverflow) {
					return
				}
				runtime.Gosched()
			}
		}
	}()

	var worst time.Duration
	for nonce := int32(0); nonce < 15; nonce++ {
		sent := time.Now()
		is.NoErr(fast.SendMessage(ping{Nonce: nonce}))
		msg, err := fast.RecvMessage()
		is.NoErr(err)
		is.Equal(msg, pong{Nonce: nonce})
		if rtt := time.Since(sent); rtt > worst {
			worst = rtt
		}
		time.Sleep(100 * time.Millisecond)
	}

	is.True(worst < time.Second) // the slow peer's writes held up the reactor
}
