// Package service is the lookup contract between the network layer and
// whatever consumes decoded messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/event"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRequirementsNotMet = errors.New("service: dispatcher requirements not met")
	ErrDuplicate          = errors.New("service: already registered")
)

type Descriptor struct {
	Name string
	ID   uint32
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s#%d", d.Name, d.ID)
}

type Service interface {
	Descriptor() Descriptor
	Dispatcher() *event.Dispatcher
	// Run blocks until ctx is done or the service fails.
	Run(ctx context.Context) error
}

// Session is the side of a connection a service gets to see.
type Session interface {
	ID() uint64
	WriteMessage(msg codec.Message) error
	Disconnect(reason error)
}

// MessageEvent carries a decoded message to a service's dispatcher.
type MessageEvent struct {
	Session Session
	Message codec.Message
}

func (MessageEvent) Kind() event.Kind { return event.KindMessage }

// DisconnectEvent tells a service that one of its sessions went away.
type DisconnectEvent struct {
	Session Session
	Reason  error
}

func (DisconnectEvent) Kind() event.Kind { return event.KindDisconnect }

// Check returns ErrRequirementsNotMet, naming what is missing, when s can not
// start.
func Check(s Service) error {
	if missing := s.Dispatcher().Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s has no chain for %v", ErrRequirementsNotMet, s.Descriptor(), missing)
	}
	return nil
}

// Basic is a service that only reacts to messages; it has no loop of its own.
type Basic struct {
	descriptor Descriptor
	dispatcher *event.Dispatcher
}

var _ Service = (*Basic)(nil)

func NewBasic(descriptor Descriptor) *Basic {
	d := event.NewDispatcher()
	d.AddRequiredEvent(event.KindMessage)
	return &Basic{descriptor: descriptor, dispatcher: d}
}

func (s *Basic) Descriptor() Descriptor { return s.descriptor }

func (s *Basic) Dispatcher() *event.Dispatcher { return s.dispatcher }

// OnMessage handles messages called name and stops them there.
func (s *Basic) OnMessage(name string, fn func(Session, codec.Message)) {
	s.dispatcher.RegisterHandler(event.KindMessage, name, event.HandlerFunc(func(ev event.Event, ctx *event.Context) {
		me := ev.(MessageEvent)
		if me.Message.MessageName() != name {
			return
		}
		fn(me.Session, me.Message)
		ctx.Stop()
	}))
}

// OnDisconnect registers fn for sessions that go away.
func (s *Basic) OnDisconnect(name string, fn func(Session, error)) {
	s.dispatcher.RegisterHandler(event.KindDisconnect, name, event.HandlerFunc(func(ev event.Event, _ *event.Context) {
		de := ev.(DisconnectEvent)
		fn(de.Session, de.Reason)
	}))
}

func (s *Basic) Run(ctx context.Context) error {
	if err := Check(s); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Registry finds services by id. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[uint32]Service
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]Service)}
}

func (r *Registry) Register(s Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.Descriptor().ID
	if prev, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: id %d is taken by %s", ErrDuplicate, id, prev.Descriptor())
	}
	r.byID[id] = s
	return nil
}

func (r *Registry) Unregister(id uint32) (Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	return s, ok
}

func (r *Registry) Get(id uint32) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Lookup finds a service by name.
func (r *Registry) Lookup(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.Descriptor().Name == name {
			return s, true
		}
	}
	return nil, false
}

// All returns the services ordered by id.
func (r *Registry) All() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor().ID < out[j].Descriptor().ID })
	return out
}

// RunAll checks every registered service and runs them until ctx is done or
// one of them fails, which cancels the rest.
func (r *Registry) RunAll(ctx context.Context) error {
	services := r.All()
	for _, s := range services {
		if err := Check(s); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range services {
		s := s
		g.Go(func() error {
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("%s failed: %w", s.Descriptor(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
