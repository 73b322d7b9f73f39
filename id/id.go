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

// Package id defines the local identifier types shared by every
// communicator: the monotonic local Id assigned to terminals and bindings,
// and the Identifier triple that names a terminal across the graph.
// Scatter-gather operation ids are a separate uint32 counter in scatter.Engine.
package id

import (
	"sync/atomic"
)

// Id is a monotonically increasing 32-bit positive integer assigned by the
// local leaf or node. Zero denotes "none/invalid". Ids are local to each
// end of a link; the mapping protocol translates between them.
type Id uint32

// None is the invalid/unset Id value.
const None Id = 0

// Valid reports whether the id is not None.
func (i Id) Valid() bool {
	return i != None
}

// Generator hands out Ids in increasing order starting at 1. A Generator
// is safe for concurrent use.
type Generator struct {
	next uint32
}

// Next returns the next unused Id.
func (g *Generator) Next() Id {
	return Id(atomic.AddUint32(&g.next, 1))
}

// Identifier names a terminal: its pattern signature, its human name, and
// whether it is hidden from observer listings. Two terminals are
// ambiguous iff they share all three fields.
type Identifier struct {
	Signature uint32
	Name      string
	Hidden    bool
}

// Equal reports whether two identifiers are ambiguous with each other.
func (id Identifier) Equal(other Identifier) bool {
	return id.Signature == other.Signature &&
		id.Name == other.Name &&
		id.Hidden == other.Hidden
}

// Matches reports whether id is reachable from a binding of the given
// target name and signature (hiddenTargets is not part of the match: a
// binding with hiddenTargets can still match a non-hidden terminal whose
// name/signature agree).
func (id Identifier) Matches(signature uint32, name string) bool {
	return id.Signature == signature && id.Name == name
}
