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

package binding_test

import (
	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yohummus/yogi-go/binding"
	"github.com/yohummus/yogi-go/id"
)

var _ = Describe("Binding", func() {
	It("starts Released", func() {
		b := binding.New(id.Id(1), id.Id(2), 42, "sensor/temp", false)
		Expect(b.State()).To(Equal(binding.StateReleased))
		Expect(b.TargetName()).To(Equal("sensor/temp"))
		Expect(b.Signature()).To(Equal(uint32(42)))
		Expect(b.HiddenTargets()).To(BeFalse())
	})

	It("fires an armed AsyncAwaitStateChange when PublishState transitions it", func() {
		b := binding.New(id.Id(1), id.Id(2), 42, "sensor/temp", false)

		got := make(chan binding.State, 1)
		b.AsyncAwaitStateChange(func(err liberr.Error, s binding.State) {
			Expect(err).To(BeNil())
			got <- s
		})

		b.PublishState(binding.StateEstablished)

		Eventually(got).Should(Receive(Equal(binding.StateEstablished)))
		Expect(b.State()).To(Equal(binding.StateEstablished))
	})

	It("fires Canceled on CancelAwaitStateChange", func() {
		b := binding.New(id.Id(1), id.Id(2), 42, "sensor/temp", false)

		fired := make(chan liberr.Error, 1)
		b.AsyncAwaitStateChange(func(err liberr.Error, _ binding.State) {
			fired <- err
		})

		b.CancelAwaitStateChange()

		var err liberr.Error
		Eventually(fired).Should(Receive(&err))
		Expect(err).ToNot(BeNil())
		Expect(err.HasCode(fabricerr.ErrCanceled)).To(BeTrue())
	})

	It("fires Canceled on Close", func() {
		b := binding.New(id.Id(1), id.Id(2), 42, "sensor/temp", false)

		fired := make(chan liberr.Error, 1)
		b.AsyncAwaitStateChange(func(err liberr.Error, _ binding.State) {
			fired <- err
		})

		b.Close()

		var err liberr.Error
		Eventually(fired).Should(Receive(&err))
		Expect(err).ToNot(BeNil())
	})
})
