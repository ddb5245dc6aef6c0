package workqueue

import (
	"fmt"
	"io"
	"sync"

	"github.com/phuslu/log"
)

// Pool is an Executor backed by a fixed number of goroutines.
type Pool struct {
	work chan func()
	quit chan struct{}

	mu      sync.RWMutex
	stopped bool
	once    sync.Once
	wg      sync.WaitGroup

	logger *log.Logger
}

var _ Executor = (*Pool)(nil)

// NewPool starts workers goroutines sharing a queue of backlog submissions.
func NewPool(workers, backlog int, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}

	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	p := &Pool{
		work:   make(chan func(), backlog),
		quit:   make(chan struct{}),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for work := range p.work {
				p.run(work)
			}
		}()
	}

	return p
}

// Execute queues work. It blocks while the backlog is full and gives up with
// ErrStopped once Stop is called.
func (p *Pool) Execute(work func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.work <- work:
		return nil
	case <-p.quit:
		return ErrStopped
	}
}

func (p *Pool) run(work func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("panic", fmt.Sprint(r)).
				Msg("recovered worker")
		}
	}()
	work()
}

// Stop refuses new work, lets everything already queued finish and waits for
// the workers to exit.
func (p *Pool) Stop() {
	p.once.Do(func() {
		// unblock submitters waiting on a full backlog first, they hold
		// the read lock.
		close(p.quit)

		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		close(p.work)
	})
	p.wg.Wait()
}
