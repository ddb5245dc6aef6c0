package lobby_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/lobby"
	"github.com/blukai/nova/internal/protocol"
	"github.com/blukai/nova/internal/schema"
	"github.com/blukai/nova/internal/service"
	"github.com/matryer/is"
)

type fakeSession struct {
	id uint64

	mu      sync.Mutex
	written []codec.Message
	reason  error
	// onDisconnect plays the part of the server telling the service
	onDisconnect func(service.Session, error)
}

func (s *fakeSession) ID() uint64 { return s.id }

func (s *fakeSession) WriteMessage(msg codec.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, msg)
	return nil
}

func (s *fakeSession) Disconnect(reason error) {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	if s.onDisconnect != nil {
		s.onDisconnect(s, reason)
	}
}

func (s *fakeSession) last() codec.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.written) == 0 {
		return nil
	}
	return s.written[len(s.written)-1]
}

func (s *fakeSession) disconnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func deliver(l *lobby.Lobby, s service.Session, msg codec.Message) bool {
	return l.Dispatcher().HandleEvent(service.MessageEvent{Session: s, Message: msg})
}

func TestPingJoin(t *testing.T) {
	is := is.New(t)

	l := lobby.New(lobby.Options{Seed: 1337})
	is.NoErr(service.Check(l))

	s := &fakeSession{id: 1}
	deliver(l, s, lobby.Ping{Nonce: 9})
	is.Equal(s.last(), lobby.Pong{Nonce: 9})

	deliver(l, s, lobby.Join{PlayerID: 77})
	is.Equal(s.last(), lobby.SetSeed{Seed: 1337})
	is.Equal(l.Players(), []int64{77})

	l.Dispatcher().HandleEvent(service.DisconnectEvent{Session: s})
	is.Equal(len(l.Players()), 0)
}

func TestEvictIdle(t *testing.T) {
	is := is.New(t)

	l := lobby.New(lobby.Options{IdleTimeout: 50 * time.Millisecond})

	quiet := &fakeSession{id: 1}
	chatty := &fakeSession{id: 2}
	for _, s := range []*fakeSession{quiet, chatty} {
		s.onDisconnect = func(s service.Session, reason error) {
			l.Dispatcher().HandleEvent(service.DisconnectEvent{Session: s, Reason: reason})
		}
		deliver(l, s, lobby.Join{PlayerID: int64(s.id)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for quiet.disconnected() == nil {
		if time.Now().After(deadline) {
			t.Fatal("idle session was not evicted")
		}
		deliver(l, chatty, lobby.KeepAlive{})
		time.Sleep(5 * time.Millisecond)
	}

	is.True(errors.Is(quiet.disconnected(), lobby.ErrIdle))
	is.Equal(chatty.disconnected(), nil)
	is.Equal(l.Players(), []int64{2})

	cancel()
	is.NoErr(<-done)
}

func TestEvictSilent(t *testing.T) {
	is := is.New(t)

	l := lobby.New(lobby.Options{IdleTimeout: 50 * time.Millisecond})

	silent := &fakeSession{id: 1}
	silent.onDisconnect = func(s service.Session, reason error) {
		l.Dispatcher().HandleEvent(service.DisconnectEvent{Session: s, Reason: reason})
	}
	l.Welcome(silent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for silent.disconnected() == nil {
		if time.Now().After(deadline) {
			t.Fatal("silent session was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	is.True(errors.Is(silent.disconnected(), lobby.ErrIdle))
	is.Equal(len(l.Players()), 0)
}

func TestMessages(t *testing.T) {
	is := is.New(t)

	f, err := schema.Load(filepath.Join("..", "..", "schema.yaml"))
	is.NoErr(err)
	table, err := f.Table()
	is.NoErr(err)

	server, err := lobby.ServerMessages(table)
	is.NoErr(err)
	client, err := lobby.ClientMessages(table)
	is.NoErr(err)

	// what the client encodes the server decodes, through the wire
	rev, err := table.Reverse()
	is.NoErr(err)
	buf := protocol.NewBuffer(64)

	p, err := client.Encode(lobby.Join{PlayerID: -42})
	is.NoErr(err)
	is.NoErr(codec.NewEncoder(rev, nil).Encode(p, buf))
	p, err = codec.NewDecoder(table, nil).Decode(buf)
	is.NoErr(err)
	msg, ok, err := server.Decode(p)
	is.NoErr(err)
	is.True(ok)
	is.Equal(msg, lobby.Join{PlayerID: -42})

	p, err = server.Encode(lobby.SetSeed{Seed: 123456})
	is.NoErr(err)
	is.NoErr(codec.NewEncoder(table, nil).Encode(p, buf))
	p, err = codec.NewDecoder(rev, nil).Decode(buf)
	is.NoErr(err)
	msg, ok, err = client.Decode(p)
	is.NoErr(err)
	is.True(ok)
	is.Equal(msg, lobby.SetSeed{Seed: 123456})
}

func TestMessagesNeedPackets(t *testing.T) {
	is := is.New(t)

	_, err := lobby.ServerMessages(codec.NewTable())
	is.True(errors.Is(err, codec.ErrUnknownPacket))
	_, err = lobby.ClientMessages(codec.NewTable())
	is.True(errors.Is(err, codec.ErrUnknownPacket))
}
