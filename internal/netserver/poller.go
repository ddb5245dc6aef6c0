package netserver

import (
	"context"
	"net"
	"sync"

	"github.com/blukai/nova/internal/event"
)

// readiness is one thing the reactor has to react to.
type readiness struct {
	kind event.Kind
	id   ConnID
	conn net.Conn // accept
	data []byte   // readable
	err  error    // readable
}

// poller multiplexes readiness for the reactor. Go does not expose the
// platform selector, so accepts and reads are performed by goroutines that
// post their results here, while write interest is a set the reactor checks
// on every wait. wait is the only place the reactor waits on the network.
type poller struct {
	ready  chan readiness
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	writable map[ConnID]struct{}
}

func newPoller(backlog int) *poller {
	return &poller{
		ready:    make(chan readiness, backlog),
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
		writable: make(map[ConnID]struct{}),
	}
}

// post delivers r unless done or the poller is closed first.
func (p *poller) post(done <-chan struct{}, r readiness) bool {
	select {
	case p.ready <- r:
		return true
	case <-done:
		return false
	case <-p.closed:
		return false
	}
}

// interest asks for a writable readiness for id. It is safe to call from any
// goroutine.
func (p *poller) interest(id ConnID) {
	p.mu.Lock()
	p.writable[id] = struct{}{}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *poller) forget(id ConnID) {
	p.mu.Lock()
	delete(p.writable, id)
	p.mu.Unlock()
}

// wait blocks until at least one readiness is available or ctx is done, then
// collects up to limit posted ones plus every pending write interest.
func (p *poller) wait(ctx context.Context, batch []readiness, limit int) ([]readiness, error) {
	p.mu.Lock()
	pending := len(p.writable) > 0
	p.mu.Unlock()

	if !pending {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case r := <-p.ready:
			batch = append(batch, r)
		case <-p.wake:
		}
	}

drain:
	for len(batch) < limit {
		select {
		case r := <-p.ready:
			batch = append(batch, r)
		default:
			break drain
		}
	}

	p.mu.Lock()
	for id := range p.writable {
		batch = append(batch, readiness{kind: event.KindWritable, id: id})
	}
	clear(p.writable)
	p.mu.Unlock()

	return batch, nil
}

func (p *poller) close() {
	p.once.Do(func() { close(p.closed) })
}
