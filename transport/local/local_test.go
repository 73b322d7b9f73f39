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

package local_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yohummus/yogi-go/codec"
	"github.com/yohummus/yogi-go/conn"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/pattern"
	"github.com/yohummus/yogi-go/proto"
	"github.com/yohummus/yogi-go/scheduler"
	"github.com/yohummus/yogi-go/transport/local"
)

var _ = Describe("local.Connection", func() {
	var sched *scheduler.Pool

	BeforeEach(func() {
		sched = scheduler.NewPool(2, 16)
	})

	AfterEach(func() {
		sched.Stop()
	})

	It("delivers a message from one end to the other once both are assigned", func() {
		a, b := local.NewPair(sched)

		received := make(chan codec.Message, 1)
		Expect(b.Assign(conn.TypeLeaf, time.Second, func(msg codec.Message) {
			received <- msg
		})).To(BeNil())
		Expect(a.Assign(conn.TypeLeaf, time.Second, func(codec.Message) {})).To(BeNil())

		msg := proto.NewData(pattern.PublishSubscribe, id.Id(3), []byte("ping"))
		Expect(a.Send(msg)).To(BeNil())

		Eventually(received, time.Second).Should(Receive(Equal(codec.Message(msg))))
	})

	It("silently drops a Send whose peer has already been closed", func() {
		a, b := local.NewPair(sched)

		received := make(chan codec.Message, 1)
		Expect(b.Assign(conn.TypeLeaf, time.Second, func(msg codec.Message) {
			received <- msg
		})).To(BeNil())
		Expect(a.Assign(conn.TypeLeaf, time.Second, func(codec.Message) {})).To(BeNil())

		b.Close()

		msg := proto.NewData(pattern.PublishSubscribe, id.Id(3), []byte("late"))
		Expect(a.Send(msg)).To(BeNil())

		Consistently(received, 200*time.Millisecond).ShouldNot(Receive())
	})

	It("fails AsyncAwaitDeath a second time with AlreadyAssigned", func() {
		a, _ := local.NewPair(sched)
		Expect(a.AsyncAwaitDeath(func(conn.DeathCause) {})).To(BeNil())
		Expect(a.AsyncAwaitDeath(func(conn.DeathCause) {})).ToNot(BeNil())
	})

	It("fires AsyncAwaitDeath with ConnectionClosed on Close", func() {
		a, _ := local.NewPair(sched)

		died := make(chan conn.DeathCause, 1)
		Expect(a.AsyncAwaitDeath(func(cause conn.DeathCause) {
			died <- cause
		})).To(BeNil())

		a.Close()
		Eventually(died, time.Second).Should(Receive(Equal(conn.CauseConnectionClosed)))
	})

	It("replays the real cause to a handler armed after the connection already died", func() {
		a, _ := local.NewPair(sched)
		a.Close()

		died := make(chan conn.DeathCause, 1)
		Expect(a.AsyncAwaitDeath(func(cause conn.DeathCause) {
			died <- cause
		})).To(BeNil())

		Eventually(died, time.Second).Should(Receive(Equal(conn.CauseConnectionClosed)))
	})

	It("rejects Send after Close with ConnectionDead", func() {
		a, _ := local.NewPair(sched)
		a.Close()

		msg := proto.NewData(pattern.PublishSubscribe, id.Id(3), []byte("late"))
		err := a.Send(msg)
		Expect(err).ToNot(BeNil())
	})
})
