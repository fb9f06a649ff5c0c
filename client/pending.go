package client

import (
	"container/list"
	"context"
	"sync"

	"github.com/luma/bean/protocol"
)

// Pending is the result of one executed command. It is resolved exactly once,
// by the read loop when the response arrives or by Close.
type Pending struct {
	verb protocol.Verb

	once      sync.Once
	completed chan struct{}

	outcome   protocol.Outcome
	err       error
	cancelled bool
}

func newPending(verb protocol.Verb) *Pending {
	return &Pending{
		verb:      verb,
		completed: make(chan struct{}),
	}
}

// Verb is the command this result belongs to.
func (p *Pending) Verb() protocol.Verb {
	return p.verb
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.completed
}

// Wait blocks until the result is available or ctx is done. Giving up on the
// wait does not withdraw the command, its response is still consumed.
func (p *Pending) Wait(ctx context.Context) (protocol.Outcome, error) {
	select {
	case <-p.completed:
		return p.outcome, p.err

	case <-ctx.Done():
		return protocol.Outcome{}, ctx.Err()
	}
}

// Cancelled reports whether the command was cancelled by a local Close.
func (p *Pending) Cancelled() bool {
	select {
	case <-p.completed:
		return p.cancelled
	default:
		return false
	}
}

func (p *Pending) fulfil(outcome protocol.Outcome, err error) bool {
	return p.resolve(func() {
		p.outcome = outcome
		p.err = err
	})
}

func (p *Pending) cancel() bool {
	return p.resolve(func() {
		p.cancelled = true
		p.err = ErrCancelled
	})
}

func (p *Pending) fail(err error) bool {
	return p.resolve(func() {
		p.err = err
	})
}

func (p *Pending) resolve(set func()) bool {
	resolved := false
	p.once.Do(func() {
		set()
		close(p.completed)
		resolved = true
	})
	return resolved
}

// pendingQueue holds the commands that are waiting for a response, in the
// order they were written. It is not safe for concurrent use, Conn guards it.
type pendingQueue struct {
	l list.List
}

func (q *pendingQueue) enqueue(verb protocol.Verb) *Pending {
	p := newPending(verb)
	q.l.PushBack(p)
	return p
}

func (q *pendingQueue) dequeue() (*Pending, bool) {
	front := q.l.Front()
	if front == nil {
		return nil, false
	}
	return q.l.Remove(front).(*Pending), true
}

// drain removes every entry. With a nil cause each one is cancelled,
// otherwise each one fails with cause.
func (q *pendingQueue) drain(cause error) []*Pending {
	drained := make([]*Pending, 0, q.l.Len())
	for p, ok := q.dequeue(); ok; p, ok = q.dequeue() {
		if cause == nil {
			p.cancel()
		} else {
			p.fail(cause)
		}
		drained = append(drained, p)
	}
	return drained
}

func (q *pendingQueue) len() int {
	return q.l.Len()
}
