/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// tracker counts queued messages and running tasks of all machines of one flow.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newTracker() *tracker {
	t := &tracker{idle: make(chan struct{})}
	close(t.idle)
	return t
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

// wait blocks until there is no queued message and no running task, or the context is done.
func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mailbox is an unbounded FIFO queue of a machine's messages.
type mailbox struct {
	tr *tracker

	mu     sync.Mutex
	queue  []interface{}
	closed bool
	signal chan struct{}
}

func newMailbox(tr *tracker) *mailbox {
	return &mailbox{tr: tr, signal: make(chan struct{}, 1)}
}

// put enqueues a message. It returns false if the mailbox is closed.
func (m *mailbox) put(msg interface{}) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.tr.add()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) pop() (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return msg, true
}

// close drops all queued messages and rejects new ones.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	dropped := len(m.queue)
	m.queue = nil
	m.mu.Unlock()

	for i := 0; i < dropped; i++ {
		m.tr.done()
	}
}

// taskDone is a completion of an asynchronous task delivered back into the owning machine.
type taskDone struct {
	gen   uint64
	value interface{}
	err   error
}

// actor is a runtime of one machine: a mailbox drained by exactly one goroutine
// and the generation of the state instance that owns running tasks.
type actor struct {
	name    string
	box     *mailbox
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.SugaredLogger
	metrics *Metrics

	// gen is touched only by the machine's goroutine.
	gen uint64
}

func newActor(ctx context.Context, name string, tr *tracker, log *zap.SugaredLogger, metrics *Metrics) *actor {
	ctx, cancel := context.WithCancel(ctx)
	return &actor{
		name:    name,
		box:     newMailbox(tr),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.Named(name),
		metrics: metrics,
	}
}

// run processes messages one at a time until the actor is stopped.
func (a *actor) run(handle func(msg interface{})) {
	defer a.box.close()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.box.signal:
		}
		for a.ctx.Err() == nil {
			msg, ok := a.box.pop()
			if !ok {
				break
			}
			if td, isTask := msg.(taskDone); isTask && td.gen != a.gen {
				a.log.Debugw("Discard a stale task result", "gen", td.gen, "currentGen", a.gen)
				a.metrics.staleResult(a.name)
			} else {
				handle(msg)
			}
			a.box.tr.done()
		}
	}
}

// send delivers a message to the actor. Messages sent to a stopped actor are dropped.
func (a *actor) send(msg interface{}) {
	if !a.box.put(msg) {
		a.log.Debugw("Drop a message for a stopped machine", "message", msg)
	}
}

// renew invalidates results of all tasks launched by the previous state instance.
func (a *actor) renew() {
	a.gen++
}

// launch runs fn as a task of the current state instance.
func (a *actor) launch(fn func(ctx context.Context) (interface{}, error)) {
	gen := a.gen
	a.box.tr.add()
	go func() {
		defer a.box.tr.done()
		v, err := fn(a.ctx)
		a.metrics.taskFinished(a.name, err)
		a.box.put(taskDone{gen: gen, value: v, err: err})
	}()
}

// stop cancels the actor's context. Queued messages and late task results are dropped.
func (a *actor) stop() {
	a.cancel()
}
