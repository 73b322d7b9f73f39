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

// Package pattern collapses the nine messaging patterns' inheritance
// lattice (deaf-mute is the root; every other pattern is a small delta
// over a parent) into one tagged Kind plus a Traits value describing the
// delta, instead of nine separate leaf/node logic types built by deep
// multiple inheritance.
package pattern

// Kind tags one of the nine messaging patterns.
type Kind uint8

const (
	DeafMute Kind = iota
	PublishSubscribe
	ScatterGather
	CachedPublishSubscribe
	ProducerConsumer
	CachedProducerConsumer
	MasterSlave
	CachedMasterSlave
	ServiceClient
)

// String names the pattern for logging.
func (k Kind) String() string {
	switch k {
	case DeafMute:
		return "deaf-mute"
	case PublishSubscribe:
		return "publish-subscribe"
	case ScatterGather:
		return "scatter-gather"
	case CachedPublishSubscribe:
		return "cached-publish-subscribe"
	case ProducerConsumer:
		return "producer-consumer"
	case CachedProducerConsumer:
		return "cached-producer-consumer"
	case MasterSlave:
		return "master-slave"
	case CachedMasterSlave:
		return "cached-master-slave"
	case ServiceClient:
		return "service-client"
	default:
		return "unknown"
	}
}

// Role distinguishes terminal halves within a pattern. None is used for
// the symmetric patterns (deaf-mute, publish-subscribe and its cached
// variant, scatter-gather); master/slave and its cached variant use
// RoleMaster/RoleSlave.
type Role uint8

const (
	RoleNone Role = iota
	RoleProducer
	RoleConsumer
	RoleMaster
	RoleSlave
	RoleService
	RoleClient
)

// Traits is the delta that each pattern applies over plain publish-
// subscribe / scatter-gather semantics.
type Traits struct {
	// HasData is true for every pattern except deaf-mute: data messages
	// flow in addition to existence/binding establishment.
	HasData bool
	// IsScatterGather is true for scatter-gather and service-client.
	IsScatterGather bool
	// Cached is true for the three cached variants: the leaf remembers
	// the last payload and replays it to new subscribers.
	Cached bool
	// RoleAsymmetric is true when the API enforces distinct publish/
	// receive (or scatter/gather) halves: producer/consumer, cached
	// producer/consumer, service/client.
	RoleAsymmetric bool
	// SuppressSlaveEcho is true for master/slave and cached master/slave:
	// a slave's publish is not re-broadcast back out to slave terminals.
	SuppressSlaveEcho bool
}

// TraitsOf returns the delta traits for a pattern kind.
func TraitsOf(k Kind) Traits {
	switch k {
	case DeafMute:
		return Traits{}
	case PublishSubscribe:
		return Traits{HasData: true}
	case ScatterGather:
		return Traits{HasData: true, IsScatterGather: true}
	case CachedPublishSubscribe:
		return Traits{HasData: true, Cached: true}
	case ProducerConsumer:
		return Traits{HasData: true, RoleAsymmetric: true}
	case CachedProducerConsumer:
		return Traits{HasData: true, Cached: true, RoleAsymmetric: true}
	case MasterSlave:
		return Traits{HasData: true, SuppressSlaveEcho: true}
	case CachedMasterSlave:
		return Traits{HasData: true, Cached: true, SuppressSlaveEcho: true}
	case ServiceClient:
		return Traits{HasData: true, IsScatterGather: true, RoleAsymmetric: true}
	default:
		return Traits{}
	}
}

// AllKinds lists the nine patterns in a stable order, used to build the
// merged per-communicator dispatch table at construction.
var AllKinds = []Kind{
	DeafMute,
	PublishSubscribe,
	ScatterGather,
	CachedPublishSubscribe,
	ProducerConsumer,
	CachedProducerConsumer,
	MasterSlave,
	CachedMasterSlave,
	ServiceClient,
}
