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

// Package ringbuffer implements a fixed-capacity lock-free single-producer/
// single-consumer byte ring, used on both the RX and TX side of a TCP
// connection. The read and write indices live on separate cache lines and
// are updated with acquire/release semantics: the writer acquires the read
// index and releases the write index; the reader acquires the write index
// and releases the read index. No lock is ever taken.
package ringbuffer

import (
	"sync/atomic"
)

const cacheLinePad = 64 - 8

// RingBuffer is a fixed-capacity SPSC byte ring. One goroutine may call the
// write-side methods (Write, FirstWriteArray, CommitFirstWriteArray) and a
// different goroutine may call the read-side methods (Read, Front, Pop,
// FirstReadArray, CommitFirstReadArray) concurrently with no further
// synchronization.
type RingBuffer struct {
	buf []byte

	// readIdx and writeIdx are padded onto distinct cache lines so the
	// producer and consumer never false-share.
	readIdx  atomic.Uint64
	_        [cacheLinePad]byte
	writeIdx atomic.Uint64
	_        [cacheLinePad]byte
}

// New allocates a ring buffer usable capacity of size bytes. One extra
// byte of backing storage is reserved internally to distinguish full from
// empty without a separate counter.
func New(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size+1)}
}

// Capacity returns the usable capacity in bytes.
func (r *RingBuffer) Capacity() int {
	return len(r.buf) - 1
}

func (r *RingBuffer) mask(i uint64) uint64 {
	return i % uint64(len(r.buf))
}

// Empty reports whether the buffer currently holds no bytes. Only safe to
// call from the reader goroutine for a precise answer; the writer may call
// it too but the result can be stale by the time it is used.
func (r *RingBuffer) Empty() bool {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()
	return read == write
}

// Full reports whether the buffer currently holds Capacity() bytes.
func (r *RingBuffer) Full() bool {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()
	return r.mask(write+1) == r.mask(read)
}

// Front returns the next unread byte without consuming it, and whether
// the buffer was non-empty.
func (r *RingBuffer) Front() (byte, bool) {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()
	if read == write {
		return 0, false
	}
	return r.buf[r.mask(read)], true
}

// Pop discards one byte, returning false if the buffer was empty.
func (r *RingBuffer) Pop() bool {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()
	if read == write {
		return false
	}
	r.readIdx.Store(r.mask(read + 1))
	return true
}

// Read consumes up to len(p) bytes into p, returning how many were copied.
func (r *RingBuffer) Read(p []byte) int {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()

	avail := int(write - read + uint64(len(r.buf)))
	avail %= len(r.buf)
	if avail == 0 {
		return 0
	}

	n := len(p)
	if n > avail {
		n = avail
	}

	for i := 0; i < n; i++ {
		p[i] = r.buf[r.mask(read+uint64(i))]
	}

	r.readIdx.Store(r.mask(read + uint64(n)))
	return n
}

// Write copies as many bytes from p as fit, returning how many were
// copied. It never blocks; back-pressure is the caller's responsibility.
func (r *RingBuffer) Write(p []byte) int {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()

	free := r.Capacity() - int((write-read+uint64(len(r.buf)))%uint64(len(r.buf)))
	if free <= 0 {
		return 0
	}

	n := len(p)
	if n > free {
		n = free
	}

	for i := 0; i < n; i++ {
		r.buf[r.mask(write+uint64(i))] = p[i]
	}

	r.writeIdx.Store(r.mask(write + uint64(n)))
	return n
}

// FirstReadArray returns a contiguous slice over the non-wrapping readable
// portion of the buffer, for scatter I/O directly into ring memory. The
// caller must follow up with CommitFirstReadArray(n) for however many
// bytes it actually consumed.
func (r *RingBuffer) FirstReadArray() []byte {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()

	if read == write {
		return nil
	}

	readPos := r.mask(read)
	writePos := r.mask(write)

	if writePos > readPos {
		return r.buf[readPos:writePos]
	}
	return r.buf[readPos:]
}

// CommitFirstReadArray advances the read index by n bytes, which must have
// been obtained from the slice most recently returned by FirstReadArray.
func (r *RingBuffer) CommitFirstReadArray(n int) {
	read := r.readIdx.Load()
	r.readIdx.Store(r.mask(read + uint64(n)))
}

// FirstWriteArray returns a contiguous slice over the non-wrapping
// writable portion of the buffer, for gather I/O directly into ring
// memory. The caller must follow up with CommitFirstWriteArray(n) for
// however many bytes it actually wrote.
func (r *RingBuffer) FirstWriteArray() []byte {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()

	writePos := r.mask(write)
	readPos := r.mask(read)

	// One slot is always kept empty to disambiguate full from empty.
	var limit uint64
	if writePos < readPos {
		limit = readPos - 1
	} else if readPos == 0 {
		limit = uint64(len(r.buf)) - 1
	} else {
		limit = uint64(len(r.buf))
	}

	if writePos >= limit {
		return nil
	}
	return r.buf[writePos:limit]
}

// CommitFirstWriteArray advances the write index by n bytes, which must
// have been obtained from the slice most recently returned by
// FirstWriteArray.
func (r *RingBuffer) CommitFirstWriteArray(n int) {
	write := r.writeIdx.Load()
	r.writeIdx.Store(r.mask(write + uint64(n)))
}
