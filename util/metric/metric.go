// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package metric

import (
	"sync"
	"sync/atomic"

	"github.com/codahale/hdrhistogram"
)

// Counter is a monotonically increasing count, safe for concurrent use.
type Counter struct {
	count int64
}

// NewCounter constructs a Counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the counter by the given amount.
func (c *Counter) Inc(n int64) {
	atomic.AddInt64(&c.count, n)
}

// Count returns the current value.
func (c *Counter) Count() int64 {
	return atomic.LoadInt64(&c.count)
}

// Each implements Iterable.
func (c *Counter) Each(f func(string, interface{})) {
	f("", c.Count())
}

// Gauge holds a single value that can move up or down, such as the current
// number of open connections.
type Gauge struct {
	value int64
}

// NewGauge constructs a Gauge starting at zero.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Update sets the gauge to v.
func (g *Gauge) Update(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc adds n to the gauge (n may be negative).
func (g *Gauge) Inc(n int64) {
	atomic.AddInt64(&g.value, n)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Each implements Iterable.
func (g *Gauge) Each(f func(string, interface{})) {
	f("", g.Value())
}

// Histogram wraps a HDR histogram behind a single mutex, for tracking
// wire-transfer latencies without the tail-latency
// distortion a simple moving average would introduce.
type Histogram struct {
	mu struct {
		sync.Mutex
	}
	h *hdrhistogram.Histogram
}

// NewHistogram constructs a Histogram recording values up to maxVal with
// sigFigs significant figures of precision (codahale/hdrhistogram's
// resolution knob).
func NewHistogram(maxVal int64, sigFigs int) *Histogram {
	return &Histogram{h: hdrhistogram.New(0, maxVal, sigFigs)}
}

// RecordValue records a single observation, clamping to the histogram's
// configured range rather than erroring on out-of-range input -- an
// occasional outlier should not be able to crash the caller.
func (h *Histogram) RecordValue(v int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.h.RecordValue(v); err != nil {
		h.h.RecordValue(h.h.HighestTrackableValue())
	}
}

// Mean returns the current mean of recorded values.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.h.Mean()
}

// ValueAtQuantile returns the value at the given quantile (0-100).
func (h *Histogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.h.ValueAtQuantile(q)
}

// Each implements Iterable, reporting the handful of quantiles callers
// typically care about for a latency distribution.
func (h *Histogram) Each(f func(string, interface{})) {
	f("-count", h.h.TotalCount())
	f("-mean", h.Mean())
	f("-p50", h.ValueAtQuantile(50))
	f("-p99", h.ValueAtQuantile(99))
}
