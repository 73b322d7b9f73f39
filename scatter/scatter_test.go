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

package scatter_test

import (
	liberr "github.com/yohummus/yogi-go/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yohummus/yogi-go/id"
	"github.com/yohummus/yogi-go/proto"
	"github.com/yohummus/yogi-go/scatter"
)

var _ = Describe("Engine", func() {
	It("fails synchronously with NotBound when there are no peers", func() {
		e := scatter.NewEngine()
		_, err := e.Scatter(nil, []byte("x"), func(id.Id, uint32, []byte) liberr.Error { return nil }, nil)
		Expect(err).NotTo(BeNil())
	})

	It("delivers exactly one FINISHED call across two responders", func() {
		e := scatter.NewEngine()
		peers := map[id.Id]id.Id{1: 11, 2: 22}

		var calls []proto.Flags
		opId, err := e.Scatter(peers, []byte("x"), func(id.Id, uint32, []byte) liberr.Error { return nil },
			func(err liberr.Error, opId uint32, flags proto.Flags, payload []byte) bool {
				calls = append(calls, flags)
				return true
			})
		Expect(err).To(BeNil())

		e.OnGather(opId, 1, proto.FlagIgnored|proto.FlagFinished, nil, 0)
		e.OnGather(opId, 2, proto.FlagFinished, []byte("y"), 0)

		Expect(calls).To(HaveLen(2))
		Expect(calls[0]&proto.FlagFinished).To(Equal(proto.Flags(0)))
		Expect(calls[1] & proto.FlagFinished).To(Equal(proto.FlagFinished))
	})

	It("reports CONNECTION_LOST|FINISHED when a peer's connection dies mid-operation", func() {
		e := scatter.NewEngine()
		peers := map[id.Id]id.Id{1: 11, 2: 22}

		var lastFlags proto.Flags
		opId, _ := e.Scatter(peers, []byte("x"), func(id.Id, uint32, []byte) liberr.Error { return nil },
			func(err liberr.Error, opId uint32, flags proto.Flags, payload []byte) bool {
				lastFlags = flags
				return true
			})

		e.OnConnectionLost(opId, 2)
		Expect(lastFlags & proto.FlagConnectionLost).To(Equal(proto.FlagConnectionLost))
		// one peer remains pending, so FINISHED must not yet be visible
		Expect(lastFlags & proto.FlagFinished).To(Equal(proto.Flags(0)))

		e.OnGather(opId, 1, proto.FlagFinished, nil, 0)
		Expect(lastFlags & proto.FlagFinished).To(Equal(proto.FlagFinished))
	})

	It("swallows further deliveries once the handler asks to stop", func() {
		e := scatter.NewEngine()
		peers := map[id.Id]id.Id{1: 11, 2: 22}

		calls := 0
		opId, _ := e.Scatter(peers, []byte("x"), func(id.Id, uint32, []byte) liberr.Error { return nil },
			func(err liberr.Error, opId uint32, flags proto.Flags, payload []byte) bool {
				calls++
				return false
			})

		e.OnGather(opId, 1, proto.FlagNone, []byte("a"), 0)
		e.OnGather(opId, 2, proto.FlagFinished, []byte("b"), 0)
		Expect(calls).To(Equal(1))
	})
})
