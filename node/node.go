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

// Package node implements the central hub of a single-hop star: every
// connected leaf describes its terminals and bindings, and the node
// merges identically-named descriptions from different leaves into one
// logical object, routes publish-subscribe/producer-consumer/master-slave
// traffic between them, and aggregates scatter-gather fan-outs a second
// time (once the leaf's own terminal fanned out to its own bindings, once
// more here across every other leaf attached to the node).
//
// Every wire message addresses the object it refers to using the id the
// RECEIVER of that message assigned to it; Scatter keeps reusing the
// target_binding_id field across both hops (leaf->node addresses the
// node's binding id, node->leaf addresses the leaf's terminal id) since
// the two hops never appear in the same frame.
package node

import (
	"sync"
	"time"

	liberr "github.com/yohummus/yogi-go/errors"

	"github.com/yohummus/yogi-go/codec"
	"github.com/yohummus/yogi-go/conn"
	errpool "github.com/yohummus/yogi-go/errors/pool"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/internal/asyncop"
	"github.com/yohummus/yogi-go/logging"
	"github.com/yohummus/yogi-go/pattern"
	"github.com/yohummus/yogi-go/proto"
	"github.com/yohummus/yogi-go/scatter"
)

// KnownTerminalsChange describes one terminal appearing or disappearing
// from the node's merged view, reported to AsyncAwaitKnownTerminalsChange.
type KnownTerminalsChange struct {
	Kind       pattern.Kind
	Identifier id.Identifier
	Added      bool
}

// bindKey groups a terminal identifier and a binding target by the part
// that must agree for them to match: signature and name. Hidden is
// deliberately excluded, matching id.Identifier.Matches.
type bindKey struct {
	signature uint32
	name      string
}

func keyOf(ident id.Identifier) bindKey {
	return bindKey{signature: ident.Signature, name: ident.Name}
}

// termRecord is the merged view of every TerminalDescription the node has
// seen for one identifier within one pattern: one or more leaves may
// describe the same terminal (e.g. a process restarted without its peer
// noticing), and they all share one node-assigned id.
type termRecord struct {
	nodeId id.Id
	ident  id.Identifier
	key    bindKey
	owner  conn.Connection
	// peers maps each describing connection to the id THAT connection
	// knows this terminal by (handed out in TerminalMapping/Noticed).
	peers map[conn.Connection]id.Id
	// demand is the set of bindRecord ids currently matching this
	// terminal; Subscribe/Unsubscribe fire on the 0<->1 transition.
	demand map[id.Id]bool
	// cachedPresent/cachedPayload/cachedFromSlave hold the last Data this
	// terminal published, for Cached patterns only. A binding can match a
	// cached terminal long after the 0->1 Subscribe transition already
	// fired (a second, third, ... subscriber), so the node — not the
	// publishing leaf — must be the one to replay it on each new match.
	cachedPresent   bool
	cachedPayload   []byte
	cachedFromSlave bool
}

// bindRecord is the merged view of every BindingDescription the node has
// seen for one target (signature+name) within one pattern.
type bindRecord struct {
	nodeId        id.Id
	key           bindKey
	hiddenTargets bool
	owner         conn.Connection
	peers         map[conn.Connection]id.Id
	// matching is the set of termRecord ids this binding currently
	// resolves to; established iff non-empty.
	matching map[id.Id]bool
}

// patternState is one pattern's independent namespace: ids handed out by
// the node for terminals/bindings of one pattern never collide with
// another pattern's, matching the per-kind type-id block on the wire.
type patternState struct {
	mu sync.Mutex

	kind pattern.Kind

	termGen id.Generator
	bindGen id.Generator

	termsById    map[id.Id]*termRecord
	termsByIdent map[id.Identifier]*termRecord
	termsByKey   map[bindKey][]*termRecord

	bindsById  map[id.Id]*bindRecord
	bindsByKey map[bindKey]*bindRecord

	engine *scatter.Engine
	// gatherPeers maps an in-flight op id to the connection each
	// synthetic peer key in the scatter fan-out belongs to, so an
	// inbound Gather (keyed only by opId + arrival connection) can be
	// translated back to the engine's peer key.
	gatherPeers map[uint32]map[conn.Connection]id.Id
}

func newPatternState(k pattern.Kind) *patternState {
	return &patternState{
		kind:         k,
		termsById:    map[id.Id]*termRecord{},
		termsByIdent: map[id.Identifier]*termRecord{},
		termsByKey:   map[bindKey][]*termRecord{},
		bindsById:    map[id.Id]*bindRecord{},
		bindsByKey:   map[bindKey]*bindRecord{},
		engine:       scatter.NewEngine(),
		gatherPeers:  map[uint32]map[conn.Connection]id.Id{},
	}
}

// Node is the hub half of the fabric: it never owns a terminal itself, it
// only relays between the leaves attached to it.
type Node struct {
	mu       sync.Mutex
	patterns map[pattern.Kind]*patternState

	knownChange asyncop.Op[KnownTerminalsChange]

	logf logging.FuncLog
}

// New returns an empty Node. An optional FuncLog injects the logger used
// for connection lifecycle and pattern-logic events; logging.Log is used
// when none is given.
func New(logf ...logging.FuncLog) *Node {
	n := &Node{patterns: map[pattern.Kind]*patternState{}}
	for _, k := range pattern.AllKinds {
		n.patterns[k] = newPatternState(k)
	}
	if len(logf) > 0 && logf[0] != nil {
		n.logf = logf[0]
	} else {
		n.logf = logging.Log
	}
	return n
}


func (n *Node) pattern(k pattern.Kind) *patternState {
	n.mu.Lock()
	defer n.mu.Unlock()
	ps := n.patterns[k]
	if ps == nil {
		ps = newPatternState(k)
		n.patterns[k] = ps
	}
	return ps
}

// AsyncAwaitKnownTerminalsChange arms handler to fire on the next terminal
// appearing or disappearing from the node's merged view across every
// pattern. AsyncOperationRunning if one is already armed.
func (n *Node) AsyncAwaitKnownTerminalsChange(handler asyncop.Handler[KnownTerminalsChange]) liberr.Error {
	return n.knownChange.Arm(handler)
}

// CancelAwaitKnownTerminalsChange synthesizes a Canceled fire for the
// armed handler, if any.
func (n *Node) CancelAwaitKnownTerminalsChange() {
	n.knownChange.Cancel()
}

// GetKnownTerminals returns every terminal identifier currently known to
// the node for the given pattern.
func (n *Node) GetKnownTerminals(k pattern.Kind) []id.Identifier {
	ps := n.pattern(k)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]id.Identifier, 0, len(ps.termsByIdent))
	for ident := range ps.termsByIdent {
		out = append(out, ident)
	}
	return out
}

// AddConnection registers a new leaf connection with the node: it assigns
// the link as conn.TypeNode, arms message dispatch and death handling.
// This is node-side connection plumbing the protocol itself does not
// name, since §4.9 only specifies the four public operations; a hub
// necessarily needs some way to accept an unbounded number of leaves.
func (n *Node) AddConnection(c conn.Connection, handshakeTimeout time.Duration) liberr.Error {
	if err := c.Assign(conn.TypeNode, handshakeTimeout, func(msg codec.Message) {
		n.onMessageReceived(c, msg)
	}); err != nil {
		n.logf().WithError(err).Warn("node: could not assign connection")
		return err
	}
	n.logf().Debug("node: connection attached")
	return c.AsyncAwaitDeath(func(cause conn.DeathCause) {
		n.logf().WithField("cause", cause).Debug("node: connection died")
		n.onConnectionDestroyed(c)
	})
}

func (n *Node) onMessageReceived(c conn.Connection, msg codec.Message) {
	typeId := msg.TypeId()
	k, tag := proto.Split(typeId)
	ps := n.pattern(k)

	switch tag {
	case proto.TagTerminalDescription:
		n.handleTerminalDescription(ps, c, msg.(proto.TerminalDescription))
	case proto.TagBindingDescription:
		n.handleBindingDescription(ps, c, msg.(proto.BindingDescription))
	case proto.TagTerminalRemovedAck, proto.TagBindingRemovedAck:
		// Nothing to reconcile: a single-hop star never needs the
		// original mesh's remove/ack round trip (see DESIGN.md).
	case proto.TagData:
		n.handleData(ps, c, msg.(proto.Data), false)
	case proto.TagCachedData:
		d := msg.(proto.CachedData)
		if d.FromSlave {
			n.handleData(ps, c, proto.NewSlaveData(k, d.Id, d.Payload), true)
		} else {
			n.handleData(ps, c, proto.NewData(k, d.Id, d.Payload), true)
		}
	case proto.TagScatter:
		n.handleScatter(ps, c, msg.(proto.Scatter))
	case proto.TagGather:
		n.handleGather(ps, c, msg.(proto.Gather))
	}
}

func (n *Node) onConnectionDestroyed(c conn.Connection) {
	n.logf().Debug("node: tearing down connection")
	n.mu.Lock()
	states := make([]*patternState, 0, len(n.patterns))
	for _, ps := range n.patterns {
		states = append(states, ps)
	}
	n.mu.Unlock()

	for _, ps := range states {
		n.dropConnection(ps, c)
	}
}

// --- terminals -------------------------------------------------------

func (n *Node) handleTerminalDescription(ps *patternState, c conn.Connection, msg proto.TerminalDescription) {
	ps.mu.Lock()
	rec, ok := ps.termsByIdent[msg.Identifier]
	if ok {
		rec.peers[c] = msg.MyId
		hasDemand := len(rec.demand) > 0
		ps.mu.Unlock()
		c.Send(proto.NewTerminalNoticed(ps.kind, rec.nodeId))
		if hasDemand {
			c.Send(proto.NewSubscribe(ps.kind, msg.MyId))
		}
		return
	}

	rec = &termRecord{
		nodeId: ps.termGen.Next(),
		ident:  msg.Identifier,
		key:    keyOf(msg.Identifier),
		owner:  c,
		peers:  map[conn.Connection]id.Id{c: msg.MyId},
		demand: map[id.Id]bool{},
	}
	ps.termsById[rec.nodeId] = rec
	ps.termsByIdent[msg.Identifier] = rec
	ps.termsByKey[rec.key] = append(ps.termsByKey[rec.key], rec)

	// A binding already waiting on this key immediately matches.
	bindRec := ps.bindsByKey[rec.key]
	var established bool
	if bindRec != nil {
		wasEmpty := len(bindRec.matching) == 0
		bindRec.matching[rec.nodeId] = true
		rec.demand[bindRec.nodeId] = true
		established = wasEmpty
	}
	ps.mu.Unlock()

	c.Send(proto.NewTerminalMapping(ps.kind, msg.MyId, rec.nodeId))
	n.knownChange.Fire(nil, KnownTerminalsChange{Kind: ps.kind, Identifier: msg.Identifier, Added: true})

	if bindRec != nil {
		n.sendToPeers(bindRec.peers, func(peerId id.Id) codec.Message {
			return proto.NewSubscribe(ps.kind, peerId)
		})
		if established {
			n.sendToPeers(bindRec.peers, func(peerId id.Id) codec.Message {
				return proto.NewBindingEstablished(ps.kind, peerId)
			})
		}
	}
}

// --- bindings ----------------------------------------------------------

func (n *Node) handleBindingDescription(ps *patternState, c conn.Connection, msg proto.BindingDescription) {
	cached := pattern.TraitsOf(ps.kind).Cached

	ps.mu.Lock()
	rec, ok := ps.bindsByKey[keyOf(msg.Identifier)]
	if ok {
		rec.peers[c] = msg.MyId
		established := len(rec.matching) > 0
		replay := cachedReplayFor(cached, ps, rec.matching, msg.MyId)
		ps.mu.Unlock()
		c.Send(proto.NewBindingNoticed(ps.kind, rec.nodeId))
		if established {
			c.Send(proto.NewBindingEstablished(ps.kind, msg.MyId))
		}
		for _, cd := range replay {
			c.Send(cd)
		}
		return
	}

	key := keyOf(msg.Identifier)
	rec = &bindRecord{
		nodeId:        ps.bindGen.Next(),
		key:           key,
		hiddenTargets: msg.HiddenTargets,
		owner:         c,
		peers:         map[conn.Connection]id.Id{c: msg.MyId},
		matching:      map[id.Id]bool{},
	}
	ps.bindsById[rec.nodeId] = rec
	ps.bindsByKey[key] = rec

	matches := append([]*termRecord(nil), ps.termsByKey[key]...)
	for _, tr := range matches {
		rec.matching[tr.nodeId] = true
		wasEmpty := len(tr.demand) == 0
		tr.demand[rec.nodeId] = true
		if wasEmpty {
			n.sendToPeers(tr.peers, func(peerId id.Id) codec.Message {
				return proto.NewSubscribe(ps.kind, peerId)
			})
		}
	}
	established := len(rec.matching) > 0
	replay := cachedReplayFor(cached, ps, rec.matching, msg.MyId)
	ps.mu.Unlock()

	c.Send(proto.NewBindingMapping(ps.kind, msg.MyId, rec.nodeId))
	if established {
		c.Send(proto.NewBindingEstablished(ps.kind, msg.MyId))
	}
	for _, cd := range replay {
		c.Send(cd)
	}
}

// cachedReplayFor builds the CachedData frames a newly-matched or newly-
// attached binding peer must receive so a late subscriber's first delivery
// is the stored cache rather than silence (§4.6, §8 scenario 2). Must be
// called while ps.mu is held: it reads termRecord cache fields.
func cachedReplayFor(cached bool, ps *patternState, matching map[id.Id]bool, targetId id.Id) []proto.CachedData {
	if !cached {
		return nil
	}
	var out []proto.CachedData
	for termId := range matching {
		tr := ps.termsById[termId]
		if tr == nil || !tr.cachedPresent {
			continue
		}
		if tr.cachedFromSlave {
			out = append(out, proto.NewSlaveCachedData(ps.kind, targetId, tr.cachedPayload))
		} else {
			out = append(out, proto.NewCachedData(ps.kind, targetId, tr.cachedPayload))
		}
	}
	return out
}

// --- data broadcast ------------------------------------------------------

// handleData forwards a Data/CachedData frame from the terminal's
// connection to every connection whose binding currently matches that
// terminal — never to another connection merely describing the same
// terminal, which has nothing bound to it.
func (n *Node) handleData(ps *patternState, c conn.Connection, msg proto.Data, cached bool) {
	ps.mu.Lock()
	rec, ok := ps.termsById[msg.Id]
	var targets map[conn.Connection]id.Id
	if ok {
		if pattern.TraitsOf(ps.kind).Cached {
			rec.cachedPresent = true
			rec.cachedPayload = append([]byte(nil), msg.Payload...)
			rec.cachedFromSlave = msg.FromSlave
		}
		targets = map[conn.Connection]id.Id{}
		for bId := range rec.demand {
			bindRec := ps.bindsById[bId]
			if bindRec == nil {
				continue
			}
			for peerConn, peerId := range bindRec.peers {
				if peerConn == c {
					continue
				}
				targets[peerConn] = peerId
			}
		}
	}
	ps.mu.Unlock()
	if !ok {
		return
	}

	n.sendToPeers(targets, func(peerId id.Id) codec.Message {
		switch {
		case cached && msg.FromSlave:
			return proto.NewSlaveCachedData(ps.kind, peerId, msg.Payload)
		case cached:
			return proto.NewCachedData(ps.kind, peerId, msg.Payload)
		case msg.FromSlave:
			return proto.NewSlaveData(ps.kind, peerId, msg.Payload)
		default:
			return proto.NewData(ps.kind, peerId, msg.Payload)
		}
	})
}

// --- scatter-gather aggregation -----------------------------------------

func (n *Node) handleScatter(ps *patternState, c conn.Connection, msg proto.Scatter) {
	ps.mu.Lock()
	bindRec, ok := ps.bindsById[msg.TargetBindingId]
	var connFor map[id.Id]conn.Connection
	var ownIdFor map[id.Id]id.Id
	if ok {
		connFor = map[id.Id]conn.Connection{}
		ownIdFor = map[id.Id]id.Id{}
		var next uint32
		for termId := range bindRec.matching {
			tr := ps.termsById[termId]
			if tr == nil {
				continue
			}
			for peerConn, peerId := range tr.peers {
				if peerConn == c {
					continue
				}
				next++
				k := id.Id(next)
				connFor[k] = peerConn
				ownIdFor[k] = peerId
			}
		}
	}
	ps.mu.Unlock()

	if !ok || len(connFor) == 0 {
		n.logf().WithField("kind", ps.kind).Debug("node: scatter addressed to an unmatched or empty binding")
		c.Send(proto.NewGather(ps.kind, msg.OpId, proto.FlagFinished|proto.FlagBindingDestroyed, nil))
		return
	}

	pendingPeers := make(map[id.Id]id.Id, len(connFor))
	for k := range connFor {
		pendingPeers[k] = k
	}

	sender := func(k id.Id, opId uint32, payload []byte) liberr.Error {
		return connFor[k].Send(proto.NewScatter(ps.kind, ownIdFor[k], opId, payload))
	}

	origin, origOpId := c, msg.OpId
	handler := func(err liberr.Error, opId uint32, flags proto.Flags, payload []byte) bool {
		origin.Send(proto.NewGather(ps.kind, origOpId, flags, payload))
		return true
	}

	opId, err := ps.engine.Scatter(pendingPeers, msg.Payload, sender, handler)
	if err != nil {
		c.Send(proto.NewGather(ps.kind, msg.OpId, proto.FlagFinished|proto.FlagBindingDestroyed, nil))
		return
	}

	peerByConn := make(map[conn.Connection]id.Id, len(connFor))
	for k, pc := range connFor {
		peerByConn[pc] = k
	}

	ps.mu.Lock()
	ps.gatherPeers[opId] = peerByConn
	ps.mu.Unlock()
}

func (n *Node) handleGather(ps *patternState, c conn.Connection, msg proto.Gather) {
	ps.mu.Lock()
	peerByConn, ok := ps.gatherPeers[msg.OpId]
	var k id.Id
	if ok {
		k, ok = peerByConn[c]
	}
	if ok && msg.Flags&proto.FlagFinished != 0 {
		delete(peerByConn, c)
		if len(peerByConn) == 0 {
			delete(ps.gatherPeers, msg.OpId)
		}
	}
	ps.mu.Unlock()
	if !ok {
		return
	}

	ps.engine.OnGather(msg.OpId, k, msg.Flags, msg.Payload, 0)
}

// --- connection teardown -------------------------------------------------

func (n *Node) dropConnection(ps *patternState, c conn.Connection) {
	ps.mu.Lock()

	var removedTerms []*termRecord
	for _, rec := range ps.termsById {
		if _, had := rec.peers[c]; !had {
			continue
		}
		delete(rec.peers, c)
		if rec.owner == c && len(rec.peers) > 0 {
			for other := range rec.peers {
				rec.owner = other
				break
			}
		}
		if len(rec.peers) == 0 {
			removedTerms = append(removedTerms, rec)
		}
	}
	for _, rec := range removedTerms {
		delete(ps.termsById, rec.nodeId)
		delete(ps.termsByIdent, rec.ident)
		siblings := ps.termsByKey[rec.key]
		for i, s := range siblings {
			if s == rec {
				ps.termsByKey[rec.key] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		for bId := range rec.demand {
			if bindRec := ps.bindsById[bId]; bindRec != nil {
				wasPresent := len(bindRec.matching) > 0
				delete(bindRec.matching, rec.nodeId)
				if wasPresent && len(bindRec.matching) == 0 {
					n.sendToPeers(bindRec.peers, func(peerId id.Id) codec.Message {
						return proto.NewBindingReleased(ps.kind, peerId)
					})
				}
			}
		}
	}

	var removedBinds []*bindRecord
	for _, rec := range ps.bindsById {
		if _, had := rec.peers[c]; !had {
			continue
		}
		delete(rec.peers, c)
		if rec.owner == c && len(rec.peers) > 0 {
			for other := range rec.peers {
				rec.owner = other
				break
			}
		}
		if len(rec.peers) == 0 {
			removedBinds = append(removedBinds, rec)
		}
	}
	for _, rec := range removedBinds {
		delete(ps.bindsById, rec.nodeId)
		delete(ps.bindsByKey, rec.key)
		for termId := range rec.matching {
			if tr := ps.termsById[termId]; tr != nil {
				wasPresent := len(tr.demand) > 0
				delete(tr.demand, rec.nodeId)
				if wasPresent && len(tr.demand) == 0 {
					n.sendToPeers(tr.peers, func(peerId id.Id) codec.Message {
						return proto.NewUnsubscribe(ps.kind, peerId)
					})
				}
			}
		}
	}

	lostOps := map[uint32]id.Id{}
	for opId, peerByConn := range ps.gatherPeers {
		if k, had := peerByConn[c]; had {
			delete(peerByConn, c)
			if len(peerByConn) == 0 {
				delete(ps.gatherPeers, opId)
			}
			lostOps[opId] = k
		}
	}
	ps.mu.Unlock()

	for _, rec := range removedTerms {
		n.knownChange.Fire(nil, KnownTerminalsChange{Kind: ps.kind, Identifier: rec.ident, Added: false})
	}

	for opId, k := range lostOps {
		ps.engine.OnConnectionLost(opId, k)
	}
}

// sendToPeers fans fn(peerId) out to every connection in targets. Safe to
// call while holding a patternState's lock: Connection.Send never blocks
// on it. A fan-out can partially fail (one peer's ring buffer is already
// gone while others are fine); failures are collected in a pool rather
// than silently dropped one at a time, and logged together once the whole
// fan-out has been attempted.
func (n *Node) sendToPeers(targets map[conn.Connection]id.Id, fn func(peerId id.Id) codec.Message) {
	failures := errpool.New()
	for c, peerId := range targets {
		if err := c.Send(fn(peerId)); err != nil {
			failures.Add(err)
		}
	}
	if failures.Len() > 0 {
		n.logf().WithError(failures.Error()).WithField("peer_count", len(targets)).
			Debug("node: fan-out send failed for one or more peers")
	}
}
