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

package leaf_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yohummus/yogi-go/binding"
	liberr "github.com/yohummus/yogi-go/errors"
	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/leaf"
	"github.com/yohummus/yogi-go/node"
	"github.com/yohummus/yogi-go/pattern"
	"github.com/yohummus/yogi-go/proto"
	"github.com/yohummus/yogi-go/scheduler"
	"github.com/yohummus/yogi-go/transport/local"
)

func attachToNode(sched *scheduler.Pool, n *node.Node) *leaf.Leaf {
	l := leaf.New()
	nodeSide, leafSide := local.NewPair(sched)
	Expect(n.AddConnection(nodeSide, time.Second)).To(BeNil())
	Expect(l.OnNewConnection(leafSide, true, time.Second)).To(BeNil())
	return l
}

var _ = Describe("Leaf", func() {
	var sched *scheduler.Pool
	var n *node.Node

	BeforeEach(func() {
		sched = scheduler.NewPool(4, 32)
		n = node.New()
	})

	AfterEach(func() {
		sched.Stop()
	})

	It("fails OnNewConnection a second time with AlreadyConnected", func() {
		l := attachToNode(sched, n)
		_, other := local.NewPair(sched)
		err := l.OnNewConnection(other, true, time.Second)
		Expect(err).ToNot(BeNil())
	})

	It("publishes from a producer terminal to a bound consumer through a node", func() {
		ident := id.Identifier{Signature: 1, Name: "sensor/temp"}

		producer := attachToNode(sched, n)
		pt, err := producer.CreateTerminal(pattern.ProducerConsumer, ident, pattern.RoleProducer)
		Expect(err).To(BeNil())

		consumer := attachToNode(sched, n)
		ct, err := consumer.CreateTerminal(pattern.ProducerConsumer, ident, pattern.RoleConsumer)
		Expect(err).To(BeNil())

		received := make(chan []byte, 1)
		Expect(ct.ArmReceive(func(err liberr.Error, payload []byte, cached bool) {
			Expect(err).To(BeNil())
			received <- payload
		})).To(BeNil())

		_, err = consumer.CreateBinding(pattern.ProducerConsumer, ct.LocalId(), ident.Signature, ident.Name, false)
		Expect(err).To(BeNil())

		Eventually(func() bool {
			ok, _ := producer.Publish(pattern.ProducerConsumer, pt.LocalId(), []byte("23.5"))
			return ok
		}, time.Second).Should(BeTrue())

		Eventually(received, time.Second).Should(Receive(Equal([]byte("23.5"))))
	})

	It("reports NotBound when scattering through an unestablished binding", func() {
		client := attachToNode(sched, n)
		ct, err := client.CreateTerminal(pattern.ServiceClient, id.Identifier{Signature: 9, Name: "rpc/missing"}, pattern.RoleClient)
		Expect(err).To(BeNil())
		b, err := client.CreateBinding(pattern.ServiceClient, ct.LocalId(), 9, "rpc/missing", false)
		Expect(err).To(BeNil())
		Expect(b).ToNot(BeNil())

		_, err = client.Scatter(pattern.ServiceClient, b.GroupId(), []byte("ping"), func(liberr.Error, uint32, proto.Flags, []byte) bool { return true })
		Expect(err).ToNot(BeNil())
	})

	It("replays the cached payload to a late subscriber before any new publish", func() {
		ident := id.Identifier{Signature: 5, Name: "cache/val"}

		producer := attachToNode(sched, n)
		pt, err := producer.CreateTerminal(pattern.CachedPublishSubscribe, ident, pattern.RoleNone)
		Expect(err).To(BeNil())

		reached, err := producer.Publish(pattern.CachedPublishSubscribe, pt.LocalId(), []byte("cd"))
		Expect(err).To(BeNil())
		Expect(reached).To(BeFalse())

		consumer := attachToNode(sched, n)
		ct, err := consumer.CreateTerminal(pattern.CachedPublishSubscribe, ident, pattern.RoleNone)
		Expect(err).To(BeNil())

		type delivery struct {
			payload []byte
			cached  bool
		}
		received := make(chan delivery, 2)
		var arm func()
		arm = func() {
			Expect(ct.ArmReceive(func(err liberr.Error, payload []byte, cached bool) {
				Expect(err).To(BeNil())
				received <- delivery{payload, cached}
				arm()
			})).To(BeNil())
		}
		arm()

		_, err = consumer.CreateBinding(pattern.CachedPublishSubscribe, ct.LocalId(), ident.Signature, ident.Name, false)
		Expect(err).To(BeNil())

		var first delivery
		Eventually(received, time.Second).Should(Receive(&first))
		Expect(first.payload).To(Equal([]byte("cd")))
		Expect(first.cached).To(BeTrue())

		Eventually(func() bool {
			ok, _ := producer.Publish(pattern.CachedPublishSubscribe, pt.LocalId(), []byte("ef"))
			return ok
		}, time.Second).Should(BeTrue())

		var second delivery
		Eventually(received, time.Second).Should(Receive(&second))
		Expect(second.payload).To(Equal([]byte("ef")))
		Expect(second.cached).To(BeFalse())
	})

	It("does not echo a slave's publish back out to other slaves", func() {
		ident := id.Identifier{Signature: 7, Name: "ms/topic"}

		master := attachToNode(sched, n)
		mt, err := master.CreateTerminal(pattern.MasterSlave, ident, pattern.RoleMaster)
		Expect(err).To(BeNil())
		_, err = master.CreateBinding(pattern.MasterSlave, mt.LocalId(), ident.Signature, ident.Name, false)
		Expect(err).To(BeNil())

		slave1 := attachToNode(sched, n)
		s1t, err := slave1.CreateTerminal(pattern.MasterSlave, ident, pattern.RoleSlave)
		Expect(err).To(BeNil())
		_, err = slave1.CreateBinding(pattern.MasterSlave, s1t.LocalId(), ident.Signature, ident.Name, false)
		Expect(err).To(BeNil())

		slave2 := attachToNode(sched, n)
		s2t, err := slave2.CreateTerminal(pattern.MasterSlave, ident, pattern.RoleSlave)
		Expect(err).To(BeNil())
		_, err = slave2.CreateBinding(pattern.MasterSlave, s2t.LocalId(), ident.Signature, ident.Name, false)
		Expect(err).To(BeNil())

		masterReceived := make(chan []byte, 1)
		Expect(mt.ArmReceive(func(err liberr.Error, payload []byte, cached bool) {
			Expect(err).To(BeNil())
			masterReceived <- payload
		})).To(BeNil())

		slave2Received := make(chan []byte, 1)
		Expect(s2t.ArmReceive(func(err liberr.Error, payload []byte, cached bool) {
			Expect(err).To(BeNil())
			slave2Received <- payload
		})).To(BeNil())

		Eventually(func() bool {
			ok, _ := slave1.Publish(pattern.MasterSlave, s1t.LocalId(), []byte("hi"))
			return ok
		}, time.Second).Should(BeTrue())

		Eventually(masterReceived, time.Second).Should(Receive(Equal([]byte("hi"))))
		Consistently(slave2Received, 200*time.Millisecond).ShouldNot(Receive())
	})

	It("aggregates a scatter-gather round trip through a node to a service leaf", func() {
		ident := id.Identifier{Signature: 3, Name: "rpc/ping"}

		service := attachToNode(sched, n)
		st, err := service.CreateTerminal(pattern.ScatterGather, ident, pattern.RoleNone)
		Expect(err).To(BeNil())
		Expect(st.ArmScatterReceive(func(opId uint32, payload []byte, respond func(bool, []byte) liberr.Error) {
			Expect(respond(true, append([]byte("pong:"), payload...))).To(BeNil())
		})).To(BeNil())

		client := attachToNode(sched, n)
		ct, err := client.CreateTerminal(pattern.ScatterGather, ident, pattern.RoleNone)
		Expect(err).To(BeNil())
		b, err := client.CreateBinding(pattern.ScatterGather, ct.LocalId(), ident.Signature, ident.Name, false)
		Expect(err).To(BeNil())

		Eventually(func() binding.State {
			return b.State()
		}, time.Second).Should(Equal(binding.StateEstablished))

		done := make(chan []byte, 1)
		_, err = client.Scatter(pattern.ScatterGather, b.GroupId(), []byte("hello"), func(err liberr.Error, opId uint32, flags proto.Flags, payload []byte) bool {
			Expect(err).To(BeNil())
			Expect(flags & proto.FlagFinished).ToNot(Equal(proto.Flags(0)))
			done <- payload
			return true
		})
		Expect(err).To(BeNil())

		Eventually(done, time.Second).Should(Receive(Equal([]byte("pong:hello"))))
	})
})
