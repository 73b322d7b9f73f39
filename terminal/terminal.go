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

// Package terminal implements the leaf-owned Terminal: a named endpoint
// with per-kind state (a one-shot receive handler, a cache slot, a
// subscribed flag and a scatter request handler); outstanding
// scatter-gather operations are tracked by the leaf's scatter.Engine, not
// here. One arena, keyed by local id, replaces the source's
// terminal/leaf/binding/connection back-reference mesh.
package terminal

import (
	"sync"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/pattern"
)

// ReceiveHandler is armed by a single async_receive operation and fired at
// most once with the next inbound payload (or an error/cancellation).
type ReceiveHandler func(err liberr.Error, payload []byte, cached bool)

// Terminal is an owned endpoint on a leaf.
type Terminal struct {
	mu sync.Mutex

	kind       pattern.Kind
	identifier id.Identifier
	localId    id.Id
	role       pattern.Role

	recvHandler ReceiveHandler
	recvArmed   bool

	cached    bool
	cachePresent bool
	cachePayload []byte

	// subscribed records whether the upstream node reported at least one
	// subscriber for this terminal (SetSubscribed); the leaf's Publish
	// reads it through Subscribed to decide reachability.
	subscribed bool

	scatterHandler ScatterHandler
	scatterArmed   bool
}

// ScatterHandler is armed on a scatter-gather terminal's server side; it
// stays armed across multiple inbound requests until CancelScatterReceive
// is called, unlike the one-shot ReceiveHandler. respond sends one Gather
// frame back towards the requester; it may be called more than once per
// opId before finally being called with finished=true.
type ScatterHandler func(opId uint32, payload []byte, respond func(finished bool, payload []byte) liberr.Error)

// New creates a terminal of the given kind/identifier, assigning it
// localID (handed out by the owning leaf's id.Generator).
func New(k pattern.Kind, ident id.Identifier, localID id.Id, role pattern.Role) *Terminal {
	return &Terminal{
		kind:       k,
		identifier: ident,
		localId:    localID,
		role:       role,
		cached:     pattern.TraitsOf(k).Cached,
	}
}

func (t *Terminal) Kind() pattern.Kind          { return t.kind }
func (t *Terminal) Identifier() id.Identifier   { return t.identifier }
func (t *Terminal) LocalId() id.Id              { return t.localId }
func (t *Terminal) Role() pattern.Role          { return t.role }

// ArmReceive installs handler as the next async_receive completion. Fails
// with AsyncOperationRunning if one is already armed.
func (t *Terminal) ArmReceive(handler ReceiveHandler) liberr.Error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recvArmed {
		return fabricerr.ErrAsyncOperationRunning.Error()
	}
	t.recvHandler = handler
	t.recvArmed = true
	return nil
}

// CancelReceive fires the armed receive (if any) with Canceled.
func (t *Terminal) CancelReceive() {
	t.deliver(fabricerr.ErrCanceled.Error(), nil, false)
}

// Deliver hands payload to the currently armed receive, if any; if none is
// armed the message is dropped, per §4.6 publish-subscribe semantics.
func (t *Terminal) Deliver(payload []byte, cached bool) bool {
	return t.deliver(nil, payload, cached)
}

func (t *Terminal) deliver(err liberr.Error, payload []byte, cached bool) bool {
	t.mu.Lock()
	if !t.recvArmed {
		t.mu.Unlock()
		return false
	}
	h := t.recvHandler
	t.recvHandler = nil
	t.recvArmed = false
	t.mu.Unlock()

	h(err, payload, cached)
	return true
}

// SetSubscribed records whether at least one remote subscriber (through a
// node) has issued Subscribe for this terminal.
func (t *Terminal) SetSubscribed(v bool) {
	t.mu.Lock()
	t.subscribed = v
	t.mu.Unlock()
}

// Subscribed reports the current remote-subscription state.
func (t *Terminal) Subscribed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribed
}

// UpdateCache stores payload as the terminal's last published/received
// value. Only meaningful for the cached pattern variants.
func (t *Terminal) UpdateCache(payload []byte) {
	if !t.cached {
		return
	}
	t.mu.Lock()
	t.cachePayload = append([]byte(nil), payload...)
	t.cachePresent = true
	t.mu.Unlock()
}

// Cache returns the stored payload. ok is false (Uninitialized per §4.6)
// when nothing has been cached yet.
func (t *Terminal) Cache() (payload []byte, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cachePresent {
		return nil, false
	}
	return t.cachePayload, true
}

// ArmScatterReceive installs handler as the terminal's scatter-gather
// request handler. Fails with AsyncOperationRunning if one is already
// armed.
func (t *Terminal) ArmScatterReceive(handler ScatterHandler) liberr.Error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.scatterArmed {
		return fabricerr.ErrAsyncOperationRunning.Error()
	}
	t.scatterHandler = handler
	t.scatterArmed = true
	return nil
}

// CancelScatterReceive disarms the scatter-gather request handler, if any.
func (t *Terminal) CancelScatterReceive() {
	t.mu.Lock()
	t.scatterHandler = nil
	t.scatterArmed = false
	t.mu.Unlock()
}

// DeliverScatter hands an inbound request to the armed handler, if any. It
// returns false when nothing is armed, so the caller can synthesize a
// DEAF|FINISHED response itself.
func (t *Terminal) DeliverScatter(opId uint32, payload []byte, respond func(finished bool, payload []byte) liberr.Error) bool {
	t.mu.Lock()
	h := t.scatterHandler
	armed := t.scatterArmed
	t.mu.Unlock()
	if !armed {
		return false
	}
	h(opId, payload, respond)
	return true
}
