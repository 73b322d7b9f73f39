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

// Package scheduler supplements the core's external scheduler interface
// (spec: "post a task", "run until stopped") with a concrete default,
// Pool, grounded on yogi-core/src/scheduling/MultiThreadedScheduler: a
// fixed worker-goroutine pool draining a single task channel.
package scheduler

import (
	"sync"
)

// Task is a unit of work posted to the scheduler.
type Task func()

// Pool is a fixed-size worker-goroutine pool draining a task channel.
// Post never blocks on a worker being free; it blocks only if the
// internal queue is momentarily full, matching the "post is asynchronous"
// contract every communicator relies on.
type Pool struct {
	tasks   chan Task
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// NewPool starts workers goroutines draining a queue of the given depth.
func NewPool(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	p := &Pool{
		tasks:   make(chan Task, queueDepth),
		stopped: make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Post schedules fn to run asynchronously on a worker goroutine.
func (p *Pool) Post(fn Task) {
	select {
	case <-p.stopped:
		return
	default:
	}
	p.tasks <- fn
}

// Dispatch runs fn inline on the calling goroutine. Matches the source's
// "may inline" dispatch semantics for call sites that do not need
// cross-goroutine posting.
func (p *Pool) Dispatch(fn Task) {
	fn()
}

// Stop closes the task queue and waits for every worker to drain and
// exit. Safe to call more than once.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.stopped)
		close(p.tasks)
	})
	p.wg.Wait()
}
