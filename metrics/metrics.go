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

// Package metrics exposes the fabric's runtime counters as a standalone
// prometheus.Registry, independent of any HTTP exposition surface — the
// caller decides how (or whether) to serve it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yogi"

// Collector groups every metric the fabric updates during its lifetime:
// a gauge counting open connections (leaf or node-side), frame counters split by
// direction, and a histogram of scatter-gather round-trip durations.
type Collector struct {
	Registry *prometheus.Registry

	OpenConnections prometheus.Gauge
	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	ScatterGather   prometheus.Histogram
}

// New builds a Collector registered against a fresh prometheus.Registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Number of currently established leaf/node connections.",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Number of wire frames sent, by message tag.",
		}, []string{"tag"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Number of wire frames received, by message tag.",
		}, []string{"tag"}),
		ScatterGather: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scatter_gather_duration_seconds",
			Help:      "Duration from Scatter send to the FINISHED Gather, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.OpenConnections, c.FramesSent, c.FramesReceived, c.ScatterGather)
	return c
}

// ConnectionOpened/ConnectionClosed adjust the open-connection gauge.
func (c *Collector) ConnectionOpened() { c.OpenConnections.Inc() }
func (c *Collector) ConnectionClosed() { c.OpenConnections.Dec() }

// FrameSent/FrameReceived increment the per-tag frame counters.
func (c *Collector) FrameSent(tag string)     { c.FramesSent.WithLabelValues(tag).Inc() }
func (c *Collector) FrameReceived(tag string) { c.FramesReceived.WithLabelValues(tag).Inc() }

// ObserveScatterGather records one completed scatter-gather operation's
// total duration from send to its terminating Gather.
func (c *Collector) ObserveScatterGather(d time.Duration) {
	c.ScatterGather.Observe(d.Seconds())
}
