// Package lobby is the service new connections land in: it answers pings,
// hands joining players the world seed and evicts sessions that go quiet.
package lobby

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/event"
	"github.com/blukai/nova/internal/netserver"
	"github.com/blukai/nova/internal/service"
	"github.com/phuslu/log"
)

const ID = 1

var ErrIdle = errors.New("lobby: idle for too long")

type Options struct {
	Seed int32
	// IdleTimeout is how long a session may stay silent. Keep alives count.
	IdleTimeout time.Duration
	Logger      *log.Logger
}

type member struct {
	session  service.Session
	playerID int64
	joined   bool
	lastSeen time.Time
}

type Lobby struct {
	*service.Basic

	seed   int32
	idle   time.Duration
	logger *log.Logger

	mu      sync.Mutex
	members map[uint64]*member
}

func New(opts Options) *Lobby {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Second
	}
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if opts.Logger == nil {
		tmp := log.DefaultLogger
		opts.Logger = &tmp
		opts.Logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	l := &Lobby{
		Basic: service.NewBasic(service.Descriptor{Name: "lobby", ID: ID}),

		seed:   opts.Seed,
		idle:   opts.IdleTimeout,
		logger: opts.Logger,

		members: make(map[uint64]*member),
	}

	l.OnMessage(PacketPing, l.handlePing)
	l.OnMessage(PacketJoin, l.handleJoin)
	l.OnMessage(PacketKeepAlive, func(s service.Session, _ codec.Message) {
		l.touch(s)
	})
	l.OnDisconnect("lobby", l.handleDisconnect)

	return l
}

// touch records activity and returns the session's member.
func (l *Lobby) touch(s service.Session) *member {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.members[s.ID()]
	if !ok {
		m = &member{session: s}
		l.members[s.ID()] = m
	}
	m.lastSeen = time.Now()
	return m
}

// Welcome starts tracking s before it has said anything, so a connection that
// never speaks is evicted like one that went quiet.
func (l *Lobby) Welcome(s service.Session) { l.touch(s) }

// Attach welcomes every connection r accepts into the lobby. Call it after
// RegisterDefaults.
func (l *Lobby) Attach(r *netserver.Reactor) {
	r.RegisterHandler(event.KindAccept, "lobby", event.HandlerFunc(func(ev event.Event, _ *event.Context) {
		c := ev.(netserver.AcceptEvent).Client
		if c.Service() == ID && !c.Closed() {
			l.Welcome(c)
		}
	}))
}

func (l *Lobby) handlePing(s service.Session, msg codec.Message) {
	l.touch(s)
	if err := s.WriteMessage(Pong{Nonce: msg.(Ping).Nonce}); err != nil {
		l.logger.Warn().Uint64("conn", s.ID()).Err(err).Msg("could not send pong")
	}
}

func (l *Lobby) handleJoin(s service.Session, msg codec.Message) {
	m := l.touch(s)
	playerID := msg.(Join).PlayerID

	l.mu.Lock()
	m.playerID = playerID
	m.joined = true
	l.mu.Unlock()

	l.logger.Debug().
		Uint64("conn", s.ID()).
		Int64("player", playerID).
		Msg("player joined")

	if err := s.WriteMessage(SetSeed{Seed: l.seed}); err != nil {
		l.logger.Warn().Uint64("conn", s.ID()).Err(err).Msg("could not send seed")
	}
}

func (l *Lobby) handleDisconnect(s service.Session, _ error) {
	l.mu.Lock()
	delete(l.members, s.ID())
	l.mu.Unlock()
}

// Players returns the ids of joined players.
func (l *Lobby) Players() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, 0, len(l.members))
	for _, m := range l.members {
		if m.joined {
			out = append(out, m.playerID)
		}
	}
	return out
}

// evict disconnects sessions not seen since before deadline.
func (l *Lobby) evict(deadline time.Time) int {
	var idle []service.Session

	l.mu.Lock()
	for id, m := range l.members {
		if m.lastSeen.Before(deadline) {
			idle = append(idle, m.session)
			delete(l.members, id)
		}
	}
	l.mu.Unlock()

	// NOTE: Disconnect runs listeners synchronously, and one of them ends
	// up in handleDisconnect, so it must not be called under mu.
	for _, s := range idle {
		l.logger.Debug().Uint64("conn", s.ID()).Msg("evicted idle session")
		s.Disconnect(ErrIdle)
	}
	return len(idle)
}

// Run evicts idle sessions until ctx is done.
func (l *Lobby) Run(ctx context.Context) error {
	if err := service.Check(l); err != nil {
		return err
	}

	tick := l.idle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.evict(now.Add(-l.idle))
		}
	}
}
