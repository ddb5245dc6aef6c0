package netserver

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blukai/nova/internal/byteorder"
	"github.com/cespare/xxhash/v2"
)

const poolShards = 16

type poolShard struct {
	mu      sync.RWMutex
	clients map[ConnID]*Client
}

// ClientPool maps connection ids to clients. Lookups from workers and the
// reactor run in parallel; the map is split into shards to keep them from
// contending on one lock.
type ClientPool struct {
	shards [poolShards]poolShard
	n      atomic.Int64
}

func NewClientPool() *ClientPool {
	p := &ClientPool{}
	for i := range p.shards {
		p.shards[i].clients = make(map[ConnID]*Client)
	}
	return p
}

func (p *ClientPool) shard(id ConnID) *poolShard {
	var key [8]byte
	byteorder.PutUint(key[:], uint64(id))
	return &p.shards[xxhash.Sum64(key[:])%poolShards]
}

func (p *ClientPool) Register(c *Client) error {
	s := p.shard(c.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		return fmt.Errorf("client %d is already registered", c.id)
	}
	s.clients[c.id] = c
	p.n.Add(1)
	return nil
}

func (p *ClientPool) Get(id ConnID) (*Client, bool) {
	s := p.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

func (p *ClientPool) Remove(id ConnID) (*Client, bool) {
	s := p.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
		p.n.Add(-1)
	}
	return c, ok
}

func (p *ClientPool) Len() int { return int(p.n.Load()) }

// Snapshot returns every registered client at the time of the call.
func (p *ClientPool) Snapshot() []*Client {
	out := make([]*Client, 0, p.Len())
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.RLock()
		for _, c := range s.clients {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}
