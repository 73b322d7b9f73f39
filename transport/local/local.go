/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package local joins two in-process communicators without
// serialization. Each direction runs its own strand (a FIFO cooperative
// executor backed by the scheduler); a three-state atomic prevents
// delivery to a not-yet-registered receiver and drops messages after
// close.
package local

import (
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/yohummus/yogi-go/errors"
	"github.com/yohummus/yogi-go/codec"
	"github.com/yohummus/yogi-go/conn"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/scheduler"
)

type state uint32

const (
	stateRegistration state = iota
	stateRunning
	stateClosed
)

// strand is a FIFO cooperative executor: posted functions run one at a
// time, in order, on the scheduler's worker pool.
type strand struct {
	sched   *scheduler.Pool
	mu      sync.Mutex
	running bool
	queue   []func()
}

func newStrand(sched *scheduler.Pool) *strand {
	return &strand{sched: sched}
}

func (s *strand) post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	s.sched.Post(s.drain)
}

func (s *strand) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

// Connection is a local (in-process) link between two communicators.
type Connection struct {
	sched *scheduler.Pool

	st atomic.Uint32

	sendStrand *strand
	recvStrand *strand

	peer *Connection

	mu        sync.Mutex
	activePosts int
	closed      chan struct{}
	closeOnce   sync.Once

	onMessage  conn.MessageHandler
	deathMu    sync.Mutex
	deathArmed bool
	deathFired bool
	deathCause conn.DeathCause
	deathFn    conn.DeathHandler
}

// NewPair creates two Connection endpoints already joined to each other,
// each in the Registration state.
func NewPair(sched *scheduler.Pool) (a, b *Connection) {
	a = &Connection{sched: sched, sendStrand: newStrand(sched), recvStrand: newStrand(sched), closed: make(chan struct{})}
	b = &Connection{sched: sched, sendStrand: newStrand(sched), recvStrand: newStrand(sched), closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Assign moves the connection into the Running state and installs the
// inbound message handler. Local connections have no communicator-type
// byte exchange beyond what the leaf/node caller already knows out of
// band, since both ends of a pairing are constructed together.
func (c *Connection) Assign(_ conn.CommunicatorType, _ time.Duration, onMessage conn.MessageHandler) liberr.Error {
	if !c.st.CompareAndSwap(uint32(stateRegistration), uint32(stateRunning)) {
		if state(c.st.Load()) == stateClosed {
			return fabricerr.ErrConnectionDead.Error()
		}
		return fabricerr.ErrAlreadyAssigned.Error()
	}
	c.mu.Lock()
	c.onMessage = onMessage
	c.mu.Unlock()
	return nil
}

// Send clones msg onto the sender's strand and posts delivery to the
// peer's receive strand.
func (c *Connection) Send(msg codec.Message) liberr.Error {
	if state(c.st.Load()) == stateClosed {
		return fabricerr.ErrConnectionDead.Error()
	}

	peer := c.peer
	c.mu.Lock()
	c.activePosts++
	c.mu.Unlock()

	c.sendStrand.post(func() {
		defer func() {
			c.mu.Lock()
			c.activePosts--
			c.mu.Unlock()
		}()

		if state(peer.st.Load()) != stateRunning {
			return
		}

		peer.recvStrand.post(func() {
			peer.mu.Lock()
			h := peer.onMessage
			running := state(peer.st.Load()) == stateRunning
			peer.mu.Unlock()
			if running && h != nil {
				h(msg)
			}
		})
	})

	return nil
}

// AsyncAwaitDeath arms handler as the next death notification. If the
// connection already died — including before this call, even before any
// handler was ever armed — the real cause is replayed synchronously.
func (c *Connection) AsyncAwaitDeath(handler conn.DeathHandler) liberr.Error {
	c.deathMu.Lock()

	if c.deathFired {
		cause := c.deathCause
		c.deathMu.Unlock()
		handler(cause)
		return nil
	}
	if c.deathArmed {
		c.deathMu.Unlock()
		return fabricerr.ErrAlreadyAssigned.Error()
	}
	c.deathArmed = true
	c.deathFn = handler
	c.deathMu.Unlock()
	return nil
}

// CancelAwaitDeath fires the armed handler (if any) with Canceled.
func (c *Connection) CancelAwaitDeath() {
	c.fireDeath(conn.CauseCanceled)
}

// Close transitions the connection to Closed and fires any armed death
// handler with ConnectionClosed. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.st.Store(uint32(stateClosed))
		close(c.closed)
	})
	c.fireDeath(conn.CauseConnectionClosed)
}

// fireDeath records cause as the connection's terminal state exactly once,
// independent of whether a death handler has been armed yet — Assign can
// start delivering/posting before a caller ever calls AsyncAwaitDeath, and
// that handler must still see the real cause when it is finally armed.
func (c *Connection) fireDeath(cause conn.DeathCause) {
	c.deathMu.Lock()
	if c.deathFired {
		c.deathMu.Unlock()
		return
	}
	c.deathFired = true
	c.deathCause = cause
	armed := c.deathArmed
	fn := c.deathFn
	c.deathArmed = false
	c.deathMu.Unlock()

	if armed {
		fn(cause)
	}
}
