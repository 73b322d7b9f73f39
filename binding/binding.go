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

// Package binding implements the leaf-owned Binding: a relation from a
// local terminal to a target name/signature, established when at least
// one remote terminal matches. Ported from core/BindingT.hpp, replacing
// the condition-variable drain on destruction with asyncop's arm/fire.
package binding

import (
	"sync"

	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/internal/asyncop"
)

// State is the binding's establishment state.
type State uint8

const (
	StateReleased State = iota
	StateEstablished
)

// Binding is a leaf-local subscription from a terminal to a target name.
type Binding struct {
	mu sync.Mutex

	groupId       id.Id
	terminalId    id.Id
	targetName    string
	signature     uint32
	hiddenTargets bool

	state State

	awaitStateChange asyncop.Op[State]
}

// New creates a released binding from terminalID towards targetName, with
// groupID the id assigned by the owning leaf's on_new_binding hook.
func New(groupID, terminalID id.Id, signature uint32, targetName string, hiddenTargets bool) *Binding {
	return &Binding{
		groupId:       groupID,
		terminalId:    terminalID,
		targetName:    targetName,
		signature:     signature,
		hiddenTargets: hiddenTargets,
		state:         StateReleased,
	}
}

func (b *Binding) GroupId() id.Id        { return b.groupId }
func (b *Binding) TerminalId() id.Id     { return b.terminalId }
func (b *Binding) TargetName() string    { return b.targetName }
func (b *Binding) Signature() uint32     { return b.signature }
func (b *Binding) HiddenTargets() bool   { return b.hiddenTargets }

// State returns the current establishment state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AsyncAwaitStateChange arms handler to fire on the next state transition.
func (b *Binding) AsyncAwaitStateChange(handler asyncop.Handler[State]) {
	_ = b.awaitStateChange.Arm(handler)
}

// CancelAwaitStateChange synthesizes a Canceled fire, idempotent.
func (b *Binding) CancelAwaitStateChange() {
	b.awaitStateChange.Cancel()
}

// PublishState sets the new state and fires any armed state-change await.
func (b *Binding) PublishState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()

	b.awaitStateChange.Fire(nil, s)
}

// Close tears the binding down: any armed await fires Canceled. Callers
// are expected to follow with their leaf's on_binding_destroyed hook.
func (b *Binding) Close() {
	b.awaitStateChange.Cancel()
}
