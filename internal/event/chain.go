package event

import (
	"sync"

	"github.com/blukai/nova/internal/debug"
)

type Handler interface {
	Handle(ev Event, ctx *Context)
}

type HandlerFunc func(ev Event, ctx *Context)

func (fn HandlerFunc) Handle(ev Event, ctx *Context) { fn(ev, ctx) }

type entry struct {
	name    string
	handler Handler
}

// Chain is an ordered list of handlers for one kind of event. Changes to a
// chain do not affect contexts created before them.
type Chain struct {
	mu      sync.RWMutex
	entries []entry
}

func NewChain() *Chain {
	return &Chain{}
}

func (c *Chain) AddLast(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, handler: h})
}

func (c *Chain) AddFirst(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]entry{{name: name, handler: h}}, c.entries...)
}

// Remove drops the first handler registered under name.
func (c *Chain) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.name == name {
			// copy so that snapshots held by contexts stay intact
			entries := make([]entry, 0, len(c.entries)-1)
			entries = append(entries, c.entries[:i]...)
			c.entries = append(entries, c.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// NewContext pairs ev with a cursor at the start of the chain.
func (c *Chain) NewContext(ev Event) *Context {
	c.mu.RLock()
	entries := c.entries[:len(c.entries):len(c.entries)]
	c.mu.RUnlock()

	ctx := &Context{ev: ev, entries: entries}
	if len(entries) == 0 {
		ctx.state = Exhausted
	}
	return ctx
}

type State uint8

const (
	Running State = iota
	Stopped
	Exhausted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "exhausted"
	}
}

// Context walks one event through a chain. Once it is stopped or exhausted
// no further handler runs, and advancing it is a programming error that
// panics. A context belongs to one goroutine.
type Context struct {
	ev      Event
	entries []entry
	next    int
	state   State
}

func (c *Context) Event() Event { return c.ev }

func (c *Context) State() State { return c.state }

func (c *Context) Finished() bool { return c.state != Running }

// Stopped reports whether a handler called Stop.
func (c *Context) Stopped() bool { return c.state == Stopped }

// Stop prevents every handler after the current one from running.
func (c *Context) Stop() {
	if c.state == Running {
		c.state = Stopped
	}
}

// DoNext runs exactly one handler. A handler may call DoNext itself to run
// the rest of the chain before doing its own work.
func (c *Context) DoNext() {
	debug.Assertf(c.state == Running, "advancing a %s context", c.state)
	debug.Assertf(c.next < len(c.entries), "advancing past the last handler")

	e := c.entries[c.next]
	c.next++
	e.handler.Handle(c.ev, c)

	if c.state == Running && c.next >= len(c.entries) {
		c.state = Exhausted
	}
}

// DoAll runs handlers until one stops the context or none are left.
func (c *Context) DoAll() {
	debug.Assertf(c.state == Running, "advancing a %s context", c.state)

	for c.state == Running {
		c.DoNext()
	}
}

// Run is the single entry point for driving a context: a nil or finished
// context is a no-op, anything else runs to completion.
func Run(ctx *Context) {
	if ctx == nil || ctx.Finished() {
		return
	}
	ctx.DoAll()
}

// Dispatch runs ev through chain. A nil or empty chain does nothing. It
// reports whether a handler stopped the event.
func Dispatch(chain *Chain, ev Event) bool {
	if chain == nil {
		return false
	}
	ctx := chain.NewContext(ev)
	Run(ctx)
	return ctx.Stopped()
}
