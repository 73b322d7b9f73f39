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

// Package scatter implements the scatter-gather operation tracker (§4.7):
// fan a request out to the terminal's current bindings, aggregate Gather
// responses, and guarantee the user handler is called exactly once with
// FINISHED set.
package scatter

import (
	"sync"
	"sync/atomic"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/logging"
	"github.com/yohummus/yogi-go/proto"
)

// GatherHandler is invoked for every inbound Gather belonging to an
// operation it owns, and exactly once more (possibly the same call) with
// FINISHED set. It returns whether the engine should keep delivering
// (true) or swallow the remainder silently (false).
type GatherHandler func(err liberr.Error, opId uint32, flags proto.Flags, payload []byte) (wantMore bool)

// Sender transmits a Scatter message towards peerID; used by Engine.Scatter
// to fan out. Implementations live on the leaf/connection layer.
type Sender func(peerId id.Id, opId uint32, payload []byte) liberr.Error

type tracker struct {
	mu           sync.Mutex
	handler      GatherHandler
	pendingPeers map[id.Id]bool
	stopped      bool
	finished     bool
}

// Engine tracks every in-flight outbound scatter-gather operation for one
// terminal or leaf.
type Engine struct {
	mu       sync.Mutex
	nextOpId uint32
	ops      map[uint32]*tracker

	logf logging.FuncLog
}

// NewEngine returns a ready-to-use Engine. An optional FuncLog injects the
// logger used for pattern-logic errors; logging.Log is used when none is
// given.
func NewEngine(logf ...logging.FuncLog) *Engine {
	e := &Engine{ops: map[uint32]*tracker{}}
	if len(logf) > 0 && logf[0] != nil {
		e.logf = logf[0]
	} else {
		e.logf = logging.Log
	}
	return e
}

// ForEachPending calls fn once for every currently in-flight operation id.
// Used on upstream connection loss, where every op this engine is tracking
// routed through the one link that just died.
func (e *Engine) ForEachPending(fn func(opId uint32)) {
	e.mu.Lock()
	ids := make([]uint32, 0, len(e.ops))
	for opId := range e.ops {
		ids = append(ids, opId)
	}
	e.mu.Unlock()

	for _, opId := range ids {
		fn(opId)
	}
}

// Scatter snapshots pendingPeers, sends Scatter(targetId, opId, payload) to
// each via send, and installs the tracker. Fails synchronously with
// NotBound if pendingPeers is empty.
func (e *Engine) Scatter(pendingPeers map[id.Id]id.Id, payload []byte, send Sender, handler GatherHandler) (uint32, liberr.Error) {
	if len(pendingPeers) == 0 {
		e.logf().Debug("scatter: rejected with NotBound, no pending peers")
		return 0, fabricerr.ErrNotBound.Error()
	}

	opId := atomic.AddUint32(&e.nextOpId, 1)

	tr := &tracker{
		handler:      handler,
		pendingPeers: make(map[id.Id]bool, len(pendingPeers)),
	}
	for peer := range pendingPeers {
		tr.pendingPeers[peer] = true
	}

	e.mu.Lock()
	e.ops[opId] = tr
	e.mu.Unlock()

	for peer, targetId := range pendingPeers {
		if err := send(targetId, opId, payload); err != nil {
			// A send failure on one peer looks exactly like that peer
			// being lost; fold it into the aggregation instead of
			// failing the whole scatter synchronously.
			e.OnConnectionLost(opId, peer)
		}
	}

	return opId, nil
}

// OnGather handles one inbound Gather(opId, flags, payload). A missing
// tracker means the operation was already canceled or its terminal went
// away; the frame is silently dropped, matching §4.7.1.
func (e *Engine) OnGather(opId uint32, peer id.Id, flags proto.Flags, payload []byte, maxBufSize int) {
	e.mu.Lock()
	tr, ok := e.ops[opId]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.deliver(opId, tr, peer, nil, flags, payload, maxBufSize)
}

// OnConnectionLost synthesizes a terminating Gather for peer on opId with
// CONNECTION_LOST | FINISHED.
func (e *Engine) OnConnectionLost(opId uint32, peer id.Id) {
	e.mu.Lock()
	tr, ok := e.ops[opId]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.deliver(opId, tr, peer, fabricerr.ErrConnectionDead.Error(), proto.FlagConnectionLost|proto.FlagFinished, nil, 0)
}

// OnBindingDestroyed synthesizes a terminating Gather for peer on opId
// with BINDING_DESTROYED | FINISHED.
func (e *Engine) OnBindingDestroyed(opId uint32, peer id.Id) {
	e.mu.Lock()
	tr, ok := e.ops[opId]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.deliver(opId, tr, peer, nil, proto.FlagBindingDestroyed|proto.FlagFinished, nil, 0)
}

// Cancel tears opId down, delivering Canceled|FINISHED to every pending
// peer exactly once (collapsed into a single terminating call).
func (e *Engine) Cancel(opId uint32) {
	e.mu.Lock()
	tr, ok := e.ops[opId]
	if ok {
		delete(e.ops, opId)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	tr.mu.Lock()
	already := tr.finished
	tr.finished = true
	h := tr.handler
	tr.mu.Unlock()

	if !already && h != nil {
		h(fabricerr.ErrCanceled.Error(), opId, proto.FlagFinished, nil)
	}
}

func (e *Engine) deliver(opId uint32, tr *tracker, peer id.Id, err liberr.Error, flags proto.Flags, payload []byte, maxBufSize int) {
	tr.mu.Lock()

	if tr.stopped {
		// Swallowed silently; still account for pending peers so the
		// operation can be torn down once the last one settles.
		if flags&proto.FlagFinished != 0 {
			delete(tr.pendingPeers, peer)
			if len(tr.pendingPeers) == 0 {
				tr.mu.Unlock()
				e.remove(opId)
				return
			}
		}
		tr.mu.Unlock()
		return
	}

	deliverErr := err
	if deliverErr == nil && maxBufSize > 0 && len(payload) > maxBufSize {
		deliverErr = fabricerr.ErrBufferTooSmall.Error()
		e.logf().WithField("op_id", opId).WithField("size", len(payload)).
			Debug("scatter: gather payload exceeded max buffer size")
	}

	finishedThisPeer := flags&proto.FlagFinished != 0
	if finishedThisPeer {
		delete(tr.pendingPeers, peer)
	}

	remaining := len(tr.pendingPeers)
	h := tr.handler
	tr.mu.Unlock()

	// The engine emits FINISHED to the caller only once: on the last
	// peer's terminating Gather. Earlier terminating Gathers from other
	// peers are delivered without FINISHED set, per the worked example
	// in §8 scenario 3/4.
	reportFlags := flags
	if finishedThisPeer && remaining > 0 {
		reportFlags &^= proto.FlagFinished
	}

	wantMore := true
	if h != nil {
		wantMore = h(deliverErr, opId, reportFlags, payload)
	}

	if finishedThisPeer && remaining == 0 {
		e.remove(opId)
		return
	}

	if !wantMore {
		tr.mu.Lock()
		tr.stopped = true
		stillPending := len(tr.pendingPeers)
		tr.mu.Unlock()
		if stillPending == 0 {
			e.remove(opId)
		}
	}
}

func (e *Engine) remove(opId uint32) {
	e.mu.Lock()
	delete(e.ops, opId)
	e.mu.Unlock()
}
