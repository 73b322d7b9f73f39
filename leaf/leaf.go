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

// Package leaf implements the edge half of the fabric: the process-local
// owner of terminals and bindings, with at most one upstream connection
// (to a node, or directly to another leaf). It mirrors node's merged
// per-pattern dispatch but never merges anything itself — every terminal
// and binding it holds was created locally, so its only job is mapping
// between its own ids and the peer's, and delivering Data/Scatter/Gather
// to the right local object.
package leaf

import (
	"sync"
	"time"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"

	"github.com/yohummus/yogi-go/binding"
	"github.com/yohummus/yogi-go/codec"
	"github.com/yohummus/yogi-go/conn"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/logging"
	"github.com/yohummus/yogi-go/pattern"
	"github.com/yohummus/yogi-go/proto"
	"github.com/yohummus/yogi-go/scatter"
	"github.com/yohummus/yogi-go/terminal"
)

// singlePeerKey is the constant synthetic peer key used with scatter.Engine
// on the leaf side: a leaf has at most one upstream connection, so there is
// never more than one pending peer in an outbound scatter operation.
const singlePeerKey id.Id = 1

type localTerm struct {
	t      *terminal.Terminal
	peerId id.Id
	mapped bool
}

type localBind struct {
	b      *binding.Binding
	peerId id.Id
	mapped bool
}

// patternLeafState is one pattern's independent namespace of locally
// created terminals/bindings, matching the per-kind type-id block on the
// wire.
type patternLeafState struct {
	mu sync.Mutex

	kind pattern.Kind

	termGen id.Generator
	bindGen id.Generator

	terms map[id.Id]*localTerm
	binds map[id.Id]*localBind

	// pendingTermAcks/pendingBindAcks are FIFO queues of locally assigned
	// ids awaiting a Mapping/Noticed reply. The upstream link is a single
	// ordered strand, so the peer's replies arrive in the same order the
	// descriptions were sent — no correlation token needed on the wire.
	pendingTermAcks []id.Id
	pendingBindAcks []id.Id

	engine *scatter.Engine
}

func newPatternLeafState(k pattern.Kind) *patternLeafState {
	return &patternLeafState{
		kind:   k,
		terms:  map[id.Id]*localTerm{},
		binds:  map[id.Id]*localBind{},
		engine: scatter.NewEngine(),
	}
}

// Leaf is the edge half of the fabric: it owns terminals and bindings and
// relays them across at most one upstream connection.
type Leaf struct {
	mu          sync.Mutex
	c           conn.Connection
	peerIsNode  bool
	connStarted bool

	patterns map[pattern.Kind]*patternLeafState

	logf logging.FuncLog
}

// New returns an unconnected Leaf. An optional FuncLog injects the logger
// used for connection lifecycle and pattern-logic events; logging.Log is
// used when none is given.
func New(logf ...logging.FuncLog) *Leaf {
	l := &Leaf{patterns: map[pattern.Kind]*patternLeafState{}}
	for _, k := range pattern.AllKinds {
		l.patterns[k] = newPatternLeafState(k)
	}
	if len(logf) > 0 && logf[0] != nil {
		l.logf = logf[0]
	} else {
		l.logf = logging.Log
	}
	return l
}

func (l *Leaf) pattern(k pattern.Kind) *patternLeafState {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps := l.patterns[k]
	if ps == nil {
		ps = newPatternLeafState(k)
		l.patterns[k] = ps
	}
	return ps
}

// --- terminal/binding creation -------------------------------------------

// CreateTerminal creates and registers a new local terminal of kind k.
// If a connection is already assigned and started, and the peer is a node,
// its TerminalDescription is sent immediately (a direct leaf-to-leaf peer
// never receives terminal descriptions — see DESIGN.md).
func (l *Leaf) CreateTerminal(k pattern.Kind, ident id.Identifier, role pattern.Role) (*terminal.Terminal, liberr.Error) {
	ps := l.pattern(k)

	ps.mu.Lock()
	localId := ps.termGen.Next()
	t := terminal.New(k, ident, localId, role)
	ps.terms[localId] = &localTerm{t: t}
	ps.mu.Unlock()

	if err := l.announceTerminal(ps, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateBinding creates and registers a new local binding of kind k,
// targeting every remote terminal matching (signature, targetName). Its
// BindingDescription is sent immediately if a connection is assigned and
// started, regardless of whether the peer is a node or a leaf. terminalId
// names the local terminal inbound Data is delivered into once the
// binding matches — for a role-asymmetric pattern this is a dedicated
// receive-only terminal created with RoleConsumer/RoleSlave/RoleClient and
// never itself announced via TerminalDescription; for a symmetric pattern
// it is typically the same terminal the caller just published from.
func (l *Leaf) CreateBinding(k pattern.Kind, terminalId id.Id, signature uint32, targetName string, hiddenTargets bool) (*binding.Binding, liberr.Error) {
	ps := l.pattern(k)

	ps.mu.Lock()
	localId := ps.bindGen.Next()
	b := binding.New(localId, terminalId, signature, targetName, hiddenTargets)
	ps.binds[localId] = &localBind{b: b}
	ps.mu.Unlock()

	if err := l.announceBinding(ps, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (l *Leaf) announceTerminal(ps *patternLeafState, t *terminal.Terminal) liberr.Error {
	l.mu.Lock()
	c, started, peerIsNode := l.c, l.connStarted, l.peerIsNode
	l.mu.Unlock()
	if c == nil || !started || !peerIsNode {
		return nil
	}

	ps.mu.Lock()
	ps.pendingTermAcks = append(ps.pendingTermAcks, t.LocalId())
	ps.mu.Unlock()

	return c.Send(proto.NewTerminalDescription(ps.kind, t.Identifier(), t.LocalId()))
}

func (l *Leaf) announceBinding(ps *patternLeafState, b *binding.Binding) liberr.Error {
	l.mu.Lock()
	c, started := l.c, l.connStarted
	l.mu.Unlock()
	if c == nil || !started {
		return nil
	}

	ps.mu.Lock()
	ps.pendingBindAcks = append(ps.pendingBindAcks, b.GroupId())
	ps.mu.Unlock()

	ident := id.Identifier{Signature: b.Signature(), Name: b.TargetName()}
	return c.Send(proto.NewBindingDescription(ps.kind, ident, b.GroupId(), b.HiddenTargets()))
}

// --- connection lifecycle -------------------------------------------------

// OnNewConnection attaches c as the leaf's upstream link. AlreadyConnected
// if one is already assigned. peerIsNode tells the leaf whether the far
// end negotiated as a node (TerminalDescription is owed to it) or as
// another leaf (it is not — see CreateTerminal).
func (l *Leaf) OnNewConnection(c conn.Connection, peerIsNode bool, handshakeTimeout time.Duration) liberr.Error {
	l.mu.Lock()
	if l.c != nil {
		l.mu.Unlock()
		return fabricerr.ErrAlreadyConnected.Error()
	}
	l.c = c
	l.peerIsNode = peerIsNode
	l.mu.Unlock()

	typ := conn.TypeLeaf
	if err := c.Assign(typ, handshakeTimeout, func(msg codec.Message) {
		l.onMessageReceived(msg)
	}); err != nil {
		l.logf().WithError(err).Warn("leaf: could not assign connection")
		l.mu.Lock()
		l.c = nil
		l.mu.Unlock()
		return err
	}

	if err := c.AsyncAwaitDeath(func(cause conn.DeathCause) {
		l.logf().WithField("cause", cause).Debug("leaf: connection died")
		l.onConnectionDestroyed()
	}); err != nil {
		l.logf().WithError(err).Warn("leaf: could not arm death handler")
		l.mu.Lock()
		l.c = nil
		l.mu.Unlock()
		return err
	}

	l.logf().WithField("peer_is_node", peerIsNode).Debug("leaf: connection attached")
	return l.onConnectionStarted()
}

// onConnectionStarted fans TerminalDescription/BindingDescription out for
// every existing local object; patterns are visited in map order, so the
// order across patterns is not fixed. A send failure means the
// link is already dead (Connection.Send only fails that way); the death
// handler armed in OnNewConnection will run the actual teardown, so there
// is nothing left to roll back here beyond stopping the fan-out early.
func (l *Leaf) onConnectionStarted() liberr.Error {
	l.mu.Lock()
	states := make([]*patternLeafState, 0, len(l.patterns))
	for _, ps := range l.patterns {
		states = append(states, ps)
	}
	l.mu.Unlock()

	for _, ps := range states {
		ps.mu.Lock()
		terms := make([]*localTerm, 0, len(ps.terms))
		for _, lt := range ps.terms {
			terms = append(terms, lt)
		}
		binds := make([]*localBind, 0, len(ps.binds))
		for _, lb := range ps.binds {
			binds = append(binds, lb)
		}
		ps.mu.Unlock()

		for _, lt := range terms {
			if err := l.announceTerminal(ps, lt.t); err != nil {
				return err
			}
		}
		for _, lb := range binds {
			if err := l.announceBinding(ps, lb.b); err != nil {
				return err
			}
		}
	}

	l.mu.Lock()
	l.connStarted = true
	l.mu.Unlock()
	return nil
}

// onConnectionDestroyed forgets every peer-assigned mapping: bindings drop
// to Released, any in-flight outbound scatter-gather is completed with
// CONNECTION_LOST, and the link itself is cleared so a fresh
// OnNewConnection can attach.
func (l *Leaf) onConnectionDestroyed() {
	l.logf().Debug("leaf: tearing down connection")
	l.mu.Lock()
	states := make([]*patternLeafState, 0, len(l.patterns))
	for _, ps := range l.patterns {
		states = append(states, ps)
	}
	l.c = nil
	l.connStarted = false
	l.peerIsNode = false
	l.mu.Unlock()

	for _, ps := range states {
		ps.mu.Lock()
		var released []*binding.Binding
		for _, lb := range ps.binds {
			lb.mapped = false
			if lb.b.State() == binding.StateEstablished {
				released = append(released, lb.b)
			}
		}
		for _, lt := range ps.terms {
			lt.mapped = false
			lt.t.SetSubscribed(false)
		}
		ps.pendingTermAcks = nil
		ps.pendingBindAcks = nil
		ps.mu.Unlock()

		for _, b := range released {
			b.PublishState(binding.StateReleased)
		}
		ps.engine.ForEachPending(func(opId uint32) {
			ps.engine.OnConnectionLost(opId, singlePeerKey)
		})
	}
}

func (l *Leaf) onMessageReceived(msg codec.Message) {
	k, tag := proto.Split(msg.TypeId())
	ps := l.pattern(k)

	switch tag {
	case proto.TagTerminalMapping:
		m := msg.(proto.TerminalMapping)
		l.resolveTermAck(ps, m.MyId)
	case proto.TagTerminalNoticed:
		m := msg.(proto.TerminalNoticed)
		l.resolveTermAck(ps, m.MyId)
	case proto.TagBindingMapping:
		m := msg.(proto.BindingMapping)
		l.resolveBindAck(ps, m.MyId)
	case proto.TagBindingNoticed:
		m := msg.(proto.BindingNoticed)
		l.resolveBindAck(ps, m.MyId)
	case proto.TagBindingEstablished:
		l.handleBindingState(ps, msg.(proto.BindingEstablished).Id, binding.StateEstablished)
	case proto.TagBindingReleased:
		l.handleBindingState(ps, msg.(proto.BindingReleased).Id, binding.StateReleased)
	case proto.TagSubscribe:
		l.handleSubscribe(ps, msg.(proto.Subscribe).Id, true)
	case proto.TagUnsubscribe:
		l.handleSubscribe(ps, msg.(proto.Unsubscribe).Id, false)
	case proto.TagData:
		m := msg.(proto.Data)
		l.handleData(ps, m.Id, m.Payload, false, m.FromSlave)
	case proto.TagCachedData:
		m := msg.(proto.CachedData)
		l.handleData(ps, m.Id, m.Payload, true, m.FromSlave)
	case proto.TagScatter:
		l.handleScatter(ps, msg.(proto.Scatter))
	case proto.TagGather:
		m := msg.(proto.Gather)
		ps.engine.OnGather(m.OpId, singlePeerKey, m.Flags, m.Payload, 0)
	case proto.TagTerminalRemoved, proto.TagBindingRemoved:
		// The node implementation in this fabric never emits these (node.go
		// only handles their acks); nothing to reconcile if a future peer does.
	}
}

func popFront(q *[]id.Id) (id.Id, bool) {
	if len(*q) == 0 {
		return 0, false
	}
	v := (*q)[0]
	*q = (*q)[1:]
	return v, true
}

func (l *Leaf) resolveTermAck(ps *patternLeafState, peerId id.Id) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	localId, ok := popFront(&ps.pendingTermAcks)
	if !ok {
		return
	}
	if lt := ps.terms[localId]; lt != nil {
		lt.peerId = peerId
		lt.mapped = true
	}
}

func (l *Leaf) resolveBindAck(ps *patternLeafState, peerId id.Id) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	localId, ok := popFront(&ps.pendingBindAcks)
	if !ok {
		return
	}
	if lb := ps.binds[localId]; lb != nil {
		lb.peerId = peerId
		lb.mapped = true
	}
}

func (l *Leaf) handleBindingState(ps *patternLeafState, localId id.Id, s binding.State) {
	ps.mu.Lock()
	lb := ps.binds[localId]
	ps.mu.Unlock()
	if lb == nil {
		return
	}
	lb.b.PublishState(s)
}

// handleSubscribe tracks Subscribe/Unsubscribe from the peer and, for
// Cached patterns, replays the terminal's stored payload to the newly
// subscribing peer immediately — per §4.6 "Cached publish-subscribe" and
// the worked example in §8, a late subscriber's first delivery must be the
// cached value, not silence until the next Publish call.
func (l *Leaf) handleSubscribe(ps *patternLeafState, localId id.Id, v bool) {
	ps.mu.Lock()
	lt := ps.terms[localId]
	ps.mu.Unlock()
	if lt == nil {
		return
	}
	lt.t.SetSubscribed(v)

	if !v || !pattern.TraitsOf(ps.kind).Cached {
		return
	}
	payload, ok := lt.t.Cache()
	if !ok {
		return
	}

	ps.mu.Lock()
	mapped, peerId := lt.mapped, lt.peerId
	ps.mu.Unlock()
	if !mapped {
		return
	}

	l.mu.Lock()
	c := l.c
	l.mu.Unlock()
	if c == nil {
		return
	}

	if pattern.TraitsOf(ps.kind).SuppressSlaveEcho && lt.t.Role() == pattern.RoleSlave {
		_ = c.Send(proto.NewSlaveCachedData(ps.kind, peerId, payload))
	} else {
		_ = c.Send(proto.NewCachedData(ps.kind, peerId, payload))
	}
}

// handleData resolves an inbound Data/CachedData frame: it is always
// addressed using the BINDING's own local id (the consuming side never
// describes itself as a terminal — see BindingDescription in §4.5), and
// delivered into the local terminal that binding was paired with at
// CreateBinding time. fromSlave is dropped silently rather than delivered
// when the receiving terminal is itself a slave under a SuppressSlaveEcho
// pattern (§4.6 "a slave's published message is not re-broadcast back to
// slaves") — the node never filters this, only the receiving leaf knows
// its own bound terminal's Role.
func (l *Leaf) handleData(ps *patternLeafState, localId id.Id, payload []byte, cached bool, fromSlave bool) {
	ps.mu.Lock()
	lb := ps.binds[localId]
	var termId id.Id
	if lb != nil {
		termId = lb.b.TerminalId()
	}
	lt := ps.terms[termId]
	ps.mu.Unlock()
	if lb == nil || lt == nil {
		return
	}
	if fromSlave && pattern.TraitsOf(ps.kind).SuppressSlaveEcho && lt.t.Role() == pattern.RoleSlave {
		return
	}
	if cached && pattern.TraitsOf(ps.kind).Cached {
		lt.t.UpdateCache(payload)
	}
	lt.t.Deliver(payload, cached)
}

func (l *Leaf) handleScatter(ps *patternLeafState, msg proto.Scatter) {
	ps.mu.Lock()
	lt := ps.terms[msg.TargetBindingId]
	ps.mu.Unlock()

	l.mu.Lock()
	c := l.c
	l.mu.Unlock()

	respond := func(finished bool, payload []byte) liberr.Error {
		flags := proto.FlagNone
		if finished {
			flags = proto.FlagFinished
		}
		if c == nil {
			return fabricerr.ErrConnectionDead.Error()
		}
		return c.Send(proto.NewGather(ps.kind, msg.OpId, flags, payload))
	}

	if lt == nil || !lt.t.DeliverScatter(msg.OpId, msg.Payload, respond) {
		l.logf().WithField("op_id", msg.OpId).Debug("leaf: scatter request answered as deaf, nothing armed")
		if c != nil {
			_ = c.Send(proto.NewGather(ps.kind, msg.OpId, proto.FlagFinished|proto.FlagDeaf, nil))
		}
	}
}

// --- public data-plane operations -----------------------------------------

// Publish sends payload out from the terminal identified by localId.
// reached is true iff the terminal is mapped and the upstream node reported
// at least one Subscribe for it; otherwise nothing is sent and reached is
// false. For the cached variants the payload is stored in the terminal's
// cache either way, but that alone does not make reached true.
func (l *Leaf) Publish(k pattern.Kind, localId id.Id, payload []byte) (reached bool, err liberr.Error) {
	ps := l.pattern(k)

	ps.mu.Lock()
	lt := ps.terms[localId]
	if lt == nil {
		ps.mu.Unlock()
		return false, fabricerr.ErrInvalidId.Error()
	}
	if pattern.TraitsOf(k).Cached {
		lt.t.UpdateCache(payload)
	}
	reached = lt.mapped && lt.t.Subscribed()
	peerId := lt.peerId
	fromSlave := pattern.TraitsOf(k).SuppressSlaveEcho && lt.t.Role() == pattern.RoleSlave
	ps.mu.Unlock()

	if !reached {
		return false, nil
	}

	l.mu.Lock()
	c := l.c
	l.mu.Unlock()
	if c == nil {
		return false, nil
	}

	var msg codec.Message
	if fromSlave {
		msg = proto.NewSlaveData(ps.kind, peerId, payload)
	} else {
		msg = proto.NewData(ps.kind, peerId, payload)
	}
	if err := c.Send(msg); err != nil {
		return false, err
	}
	return true, nil
}

// Scatter fans payload out through the binding identified by localId and
// aggregates Gather responses via handler. NotBound if the binding is not
// currently established.
func (l *Leaf) Scatter(k pattern.Kind, localId id.Id, payload []byte, handler scatter.GatherHandler) (uint32, liberr.Error) {
	ps := l.pattern(k)

	ps.mu.Lock()
	lb := ps.binds[localId]
	if lb == nil {
		ps.mu.Unlock()
		return 0, fabricerr.ErrInvalidId.Error()
	}
	if !lb.mapped || lb.b.State() != binding.StateEstablished {
		ps.mu.Unlock()
		return 0, fabricerr.ErrNotBound.Error()
	}
	target := lb.peerId
	ps.mu.Unlock()

	l.mu.Lock()
	c := l.c
	l.mu.Unlock()
	if c == nil {
		return 0, fabricerr.ErrConnectionDead.Error()
	}

	pendingPeers := map[id.Id]id.Id{singlePeerKey: target}
	sender := func(_ id.Id, opId uint32, payload []byte) liberr.Error {
		return c.Send(proto.NewScatter(ps.kind, target, opId, payload))
	}
	return ps.engine.Scatter(pendingPeers, payload, sender, handler)
}

// GetTerminal returns the terminal created under localId, or nil.
func (l *Leaf) GetTerminal(k pattern.Kind, localId id.Id) *terminal.Terminal {
	ps := l.pattern(k)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if lt := ps.terms[localId]; lt != nil {
		return lt.t
	}
	return nil
}

// GetBinding returns the binding created under localId, or nil.
func (l *Leaf) GetBinding(k pattern.Kind, localId id.Id) *binding.Binding {
	ps := l.pattern(k)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if lb := ps.binds[localId]; lb != nil {
		return lb.b
	}
	return nil
}
