// Package workqueue batches propagation tasks into fixed-size groups and runs
// them on a pool of workers.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultGroupSize = 50

var ErrStopped = errors.New("workqueue: executor stopped")

type Task func()

// Executor runs submitted work at some point, on some goroutine. Execute must
// not run work inline on the caller's goroutine, and returns ErrStopped once
// the executor no longer accepts work.
type Executor interface {
	Execute(work func()) error
}

// Partitioned collects tasks during one reactor iteration. A group is sealed
// once it holds size tasks; Execute hands every sealed group, plus the
// partial one, to an executor as a single unit and starts over. It is not
// safe for concurrent use.
type Partitioned struct {
	size   int
	groups [][]Task

	logger *log.Logger
	tracer trace.Tracer
}

func NewPartitioned(size int, logger *log.Logger) *Partitioned {
	if size <= 0 {
		size = DefaultGroupSize
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Partitioned{
		size:   size,
		logger: logger,
		tracer: otel.Tracer("github.com/blukai/nova/internal/workqueue"),
	}
}

func (q *Partitioned) Size() int { return q.size }

func (q *Partitioned) Add(task Task) {
	n := len(q.groups)
	if n == 0 || len(q.groups[n-1]) == q.size {
		q.groups = append(q.groups, make([]Task, 0, q.size))
		n++
	}
	q.groups[n-1] = append(q.groups[n-1], task)
}

// Len returns the number of pending tasks.
func (q *Partitioned) Len() int {
	n := 0
	for _, g := range q.groups {
		n += len(g)
	}
	return n
}

// Groups returns the number of pending groups, the partial one included.
func (q *Partitioned) Groups() int { return len(q.groups) }

// Execute submits every pending group and returns without waiting for them.
// If the executor refuses a group, that group and the ones after it are
// dropped.
func (q *Partitioned) Execute(executor Executor) (int, error) {
	groups := q.groups
	q.groups = nil

	for i, group := range groups {
		if err := executor.Execute(q.runner(group)); err != nil {
			return i, fmt.Errorf("could not submit group %d of %d: %w", i+1, len(groups), err)
		}
	}
	return len(groups), nil
}

func (q *Partitioned) runner(group []Task) func() {
	return func() {
		_, span := q.tracer.Start(context.Background(), "workqueue.group",
			trace.WithAttributes(attribute.Int("tasks", len(group))))
		defer span.End()

		for _, task := range group {
			q.run(task, span)
		}
	}
}

// run keeps one misbehaving task from taking the rest of its group down.
func (q *Partitioned) run(task Task, span trace.Span) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task panicked: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			q.logger.Error().Err(err).Msg("recovered task")
		}
	}()
	task()
}
