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

// Package tcp implements the TCP wire connection (§4.3): handshake,
// communicator-type exchange, a ring-buffer-driven send/receive loop, a
// heartbeat timer, and the one-shot death contract. Built on the teacher
// repo's socket-server/socket-client API shape, generalized from an echo
// handler to the fabric's framed message dispatch.
package tcp

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	liberr "github.com/yohummus/yogi-go/errors"
	"github.com/yohummus/yogi-go/codec"
	"github.com/yohummus/yogi-go/conn"
	"github.com/yohummus/yogi-go/duration"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/logging"
	"github.com/yohummus/yogi-go/ringbuffer"

	libval "github.com/go-playground/validator/v10"
)

// Config bounds the tunables of one TCP connection.
type Config struct {
	HandshakeTimeout      duration.Duration `validate:"required"`
	HeartbeatTimeout      duration.Duration `validate:"required"`
	MaxIdentificationSize uint32            `validate:"required,max=65536"`
	RingBufferSize        int               `validate:"required,min=256"`

	// Logger injects the logger used for handshake failures and death
	// events; logging.Log is used when nil.
	Logger logging.FuncLog
}

func (c Config) logf() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger()
	}
	return logging.Log()
}

// Validate checks Config against its struct tags.
func (c Config) Validate() liberr.Error {
	if err := libval.New().Struct(c); err != nil {
		return fabricerr.ErrInvalidParam.Error(err)
	}
	return nil
}

// Connection is one TCP wire endpoint, implementing conn.Connection.
type Connection struct {
	nc     net.Conn
	cfg    Config
	Identification []byte
	PeerVersion        string
	PeerIdentification []byte

	txRing *ringbuffer.RingBuffer
	rxRing *ringbuffer.RingBuffer

	txMu   sync.Mutex
	txCond *sync.Cond

	assigned atomic.Bool
	running  atomic.Bool

	lastSendAt atomic.Int64
	lastRecvAt atomic.Int64

	onMessage conn.MessageHandler

	deathMu    sync.Mutex
	deathArmed bool
	deathFired bool
	deathCause conn.DeathCause
	deathFn    conn.DeathHandler

	closeOnce sync.Once
	stopCh    chan struct{}
}

// Dial connects to addr and performs the handshake, returning a
// Connection ready for Assign.
func Dial(addr string, identification []byte, cfg Config) (*Connection, liberr.Error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return newFromConn(nc, identification, cfg)
}

// Accept performs the handshake over an already-accepted net.Conn.
func Accept(nc net.Conn, identification []byte, cfg Config) (*Connection, liberr.Error) {
	return newFromConn(nc, identification, cfg)
}

func newFromConn(nc net.Conn, identification []byte, cfg Config) (*Connection, liberr.Error) {
	res, err := doHandshake(nc, identification, cfg.MaxIdentificationSize, cfg.HandshakeTimeout.Time())
	if err != nil {
		cfg.logf().WithError(err).WithField("remote", nc.RemoteAddr()).Debug("tcp: handshake failed")
		_ = nc.Close()
		return nil, err
	}

	c := &Connection{
		nc:                  nc,
		cfg:                 cfg,
		Identification:      identification,
		PeerVersion:         res.peerVersion,
		PeerIdentification:  res.peerIdentification,
		txRing:              ringbuffer.New(cfg.RingBufferSize),
		rxRing:              ringbuffer.New(cfg.RingBufferSize),
		stopCh:              make(chan struct{}),
	}
	c.txCond = sync.NewCond(&c.txMu)
	return c, nil
}

// Assign sends the one-byte communicator type, reads the peer's, marks
// the connection ready and starts the I/O loop and heartbeat timer.
func (c *Connection) Assign(typ conn.CommunicatorType, timeout time.Duration, onMessage conn.MessageHandler) liberr.Error {
	select {
	case <-c.stopCh:
		return fabricerr.ErrConnectionDead.Error()
	default:
	}
	if !c.assigned.CompareAndSwap(false, true) {
		return fabricerr.ErrAlreadyAssigned.Error()
	}
	if timeout == 0 {
		return fabricerr.ErrInvalidParam.Error()
	}

	if err := c.nc.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout.Time())); err != nil {
		return fabricerr.ErrSocketBroken.Error()
	}
	if _, err := c.nc.Write([]byte{byte(typ)}); err != nil {
		return classifyIOError(err)
	}
	var peerType [1]byte
	if _, err := io.ReadFull(c.nc, peerType[:]); err != nil {
		return classifyIOError(err)
	}
	_ = c.nc.SetDeadline(time.Time{})

	c.onMessage = onMessage
	c.running.Store(true)
	now := time.Now().UnixNano()
	c.lastSendAt.Store(now)
	c.lastRecvAt.Store(now)

	go c.recvLoop()
	go c.sendLoop()
	if timeout > 0 {
		go c.heartbeatLoop(timeout)
	}

	return nil
}

// Send writes header+payload into the TX ring, blocking on the
// back-pressure condition variable when the ring is full.
func (c *Connection) Send(msg codec.Message) liberr.Error {
	if !c.running.Load() {
		return fabricerr.ErrConnectionDead.Error()
	}

	buf := codec.EncodeFrame(nil, msg)

	c.txMu.Lock()
	for len(buf) > 0 {
		if !c.running.Load() {
			c.txMu.Unlock()
			return fabricerr.ErrConnectionDead.Error()
		}
		n := c.txRing.Write(buf)
		buf = buf[n:]
		if len(buf) > 0 {
			c.txCond.Wait()
		}
	}
	c.txMu.Unlock()
	c.txCond.Signal()
	return nil
}

func (c *Connection) sendLoop() {
	scratch := make([]byte, 4096)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.txMu.Lock()
		for c.txRing.Empty() && c.running.Load() {
			c.txCond.Wait()
		}
		if !c.running.Load() {
			c.txMu.Unlock()
			return
		}
		n := c.txRing.Read(scratch)
		c.txMu.Unlock()
		c.txCond.Signal()

		if n == 0 {
			continue
		}
		if _, err := c.nc.Write(scratch[:n]); err != nil {
			c.die(classifyDeathCause(err))
			return
		}
		c.lastSendAt.Store(time.Now().UnixNano())
	}
}

func (c *Connection) recvLoop() {
	scratch := make([]byte, 4096)
	pending := make([]byte, 0, 4096)

	for {
		n, err := c.nc.Read(scratch)
		if n > 0 {
			pending = append(pending, scratch[:n]...)
			c.lastRecvAt.Store(time.Now().UnixNano())

			for {
				frame, consumed, derr := codec.DecodeFrame(pending)
				if derr == codec.ErrShortBuffer {
					break
				}
				if derr != nil {
					c.die(conn.CauseSocketBroken)
					return
				}
				pending = pending[consumed:]
				if !frame.Heartbeat && c.onMessage != nil {
					c.onMessage(frame.Message)
				}
			}
		}
		if err != nil {
			c.die(classifyDeathCause(err))
			return
		}
	}
}

func (c *Connection) heartbeatLoop(timeout time.Duration) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			if now.Sub(time.Unix(0, c.lastRecvAt.Load())) > timeout {
				c.die(conn.CauseTimeout)
				return
			}
			if now.Sub(time.Unix(0, c.lastSendAt.Load())) >= timeout/2 {
				_ = c.Send(nil)
			}
		}
	}
}

// AsyncAwaitDeath arms handler to fire exactly once with the cause. If the
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

// CancelAwaitDeath fires the armed handler with Canceled.
func (c *Connection) CancelAwaitDeath() {
	c.die(conn.CauseCanceled)
}

// Close tears the connection down as ConnectionClosed.
func (c *Connection) Close() {
	c.die(conn.CauseConnectionClosed)
}

// die records cause as the connection's terminal state exactly once,
// independent of whether a death handler has been armed yet — a connection
// can die before anything ever calls AsyncAwaitDeath (Assign starts the
// I/O goroutines, and a caller may only arm the handler afterwards), and
// that handler must still see the real cause when it is finally armed.
func (c *Connection) die(cause conn.DeathCause) {
	c.closeOnce.Do(func() {
		c.running.Store(false)
		close(c.stopCh)
		_ = c.nc.Close()
		c.txCond.Broadcast()
	})

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

	c.cfg.logf().WithField("cause", cause).Debug("tcp: connection died")

	if armed {
		fn(cause)
	}
}

func classifyDeathCause(err error) conn.DeathCause {
	if err == io.EOF {
		return conn.CauseConnectionClosed
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return conn.CauseTimeout
	}
	return conn.CauseSocketBroken
}

func classifyDialError(err error) liberr.Error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fabricerr.ErrTimeout.Error()
	}
	return fabricerr.ErrConnectFailed.Error()
}
