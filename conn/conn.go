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

// Package conn defines the Connection contract shared by the TCP and
// local transports: a communicator-type handshake via Assign, framed
// message exchange, and the one-shot death notification every upper
// layer (leaf, node) relies on to learn a link is gone.
package conn

import (
	"time"

	liberr "github.com/yohummus/yogi-go/errors"
	"github.com/yohummus/yogi-go/codec"
)

// DeathHandler fires exactly once with the cause of death.
type DeathHandler func(cause DeathCause)

// CommunicatorType is the one-byte value exchanged right after Assign.
type CommunicatorType uint8

const (
	TypeLeaf CommunicatorType = 0
	TypeNode CommunicatorType = 1
)

// DeathCause is the reason a Connection's death handler fired.
type DeathCause uint8

const (
	CauseConnectionClosed DeathCause = iota
	CauseTimeout
	CauseSocketBroken
	CauseCanceled
)

func (c DeathCause) String() string {
	switch c {
	case CauseConnectionClosed:
		return "connection closed"
	case CauseTimeout:
		return "timeout"
	case CauseSocketBroken:
		return "socket broken"
	case CauseCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MessageHandler dispatches one inbound message to its communicator.
type MessageHandler func(msg codec.Message)

// Connection is implemented by both transport/tcp.Connection and
// transport/local.Connection.
type Connection interface {
	// Assign attaches a communicator of the given type, exchanges the
	// one-byte communicator-type handshake and starts the main I/O loop.
	// AlreadyAssigned if called twice; ConnectionDead if the link is
	// already gone.
	Assign(typ CommunicatorType, timeout time.Duration, onMessage MessageHandler) liberr.Error

	// Send enqueues msg for delivery. Blocks if the underlying transport
	// applies back-pressure (TCP's TX ring-full condition); never blocks
	// for the local transport.
	Send(msg codec.Message) liberr.Error

	// AsyncAwaitDeath arms a single-shot death handler. AlreadyAssigned if
	// one is already armed; if the connection is already dead the handler
	// fires immediately with the recorded DeathCause.
	AsyncAwaitDeath(handler DeathHandler) liberr.Error

	// CancelAwaitDeath synthesizes a Canceled fire for the armed handler.
	CancelAwaitDeath()

	// Close tears the connection down, firing the death handler with
	// ConnectionClosed if one is armed.
	Close()
}
