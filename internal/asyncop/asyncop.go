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

// Package asyncop implements the single-arm/fire-once discipline shared by
// the binding state-change and node known-terminal-change await/cancel
// pairs; the transports track connection death with their own fields
// instead. One handler can be armed
// at a time; firing clears the arm so a second fire is a no-op, and a
// second arm before the first fires returns AsyncOperationRunning.
package asyncop

import (
	"sync"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
)

// Handler receives the outcome of the armed operation. err is nil on
// success; result carries the type-specific payload.
type Handler[T any] func(err liberr.Error, result T)

// Op is a generic single-arm async operation. The zero value is ready to
// use. T is the result type delivered to the handler on a successful fire.
type Op[T any] struct {
	mu      sync.Mutex
	armed   bool
	handler Handler[T]
}

// Arm installs handler as the next completion callback. It fails with
// AsyncOperationRunning if a handler is already armed and has not fired.
func (o *Op[T]) Arm(handler Handler[T]) liberr.Error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.armed {
		return fabricerr.ErrAsyncOperationRunning.Error()
	}

	o.armed = true
	o.handler = handler
	return nil
}

// Fire invokes the armed handler, if any, exactly once and disarms. Calling
// Fire with nothing armed is a no-op, matching the idempotent-cancel
// requirement on every cancel_* counterpart.
func (o *Op[T]) Fire(err liberr.Error, result T) {
	o.mu.Lock()
	if !o.armed {
		o.mu.Unlock()
		return
	}

	h := o.handler
	o.armed = false
	o.handler = nil
	o.mu.Unlock()

	h(err, result)
}

// Cancel fires the armed handler (if any) with Canceled and a zero result.
func (o *Op[T]) Cancel() {
	var zero T
	o.Fire(fabricerr.ErrCanceled.Error(), zero)
}

// Armed reports whether a handler is currently waiting to fire.
func (o *Op[T]) Armed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.armed
}
