// Copyright 2025 The Loam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats provides instrumentation counter primitives and the
// pipeline's decision counters.
package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/loamlang/loam/internal/xsync"
)

// Count is an atomic event counter.
type Count struct {
	n atomic.Int64
}

// Record records one event.
func (c *Count) Record() { c.n.Add(1) }

// Get returns the number of events recorded.
func (c *Count) Get() int64 { return c.n.Load() }

// Mean tracks an average statistic.
//
// The zero value is ready to use. Concurrent writes are safe, but calling
// [Mean.Get] concurrently with other operations may result in torn reads
// (and thus inaccuracy).
type Mean struct {
	total, samples xsync.AtomicFloat64
}

// Record records a sample.
func (m *Mean) Record(sample float64) {
	m.total.Add(sample)
	m.samples.Add(1)
}

// Get returns the mean value of this statistic.
func (m *Mean) Get() float64 {
	total, samples := m.total.Load(), m.samples.Load()
	if samples == 0 {
		return 0
	}
	return total / samples
}

// Merge adds all of the samples from that to m.
func (m *Mean) Merge(that *Mean) {
	m.total.Add(that.total.Load())
	m.samples.Add(that.samples.Load())
}

// Pipeline counts the injector's per-binding decisions and the work the
// collectors perform on its behalf.
type Pipeline struct {
	FreesEmitted   Count // direct frees placed at scope exit
	SCCRoots       Count // bindings routed to the cycle collector
	DeferredRoutes Count // bindings routed to deferred RC
	CapturedSkips  Count // no free: captured by a closure
	EscapeSkips    Count // no free: escapes the scope
	ConsumedSkips  Count // no free: ownership consumed by a callee
	Tethers        Count // borrow tethers injected
	Regions        Count // region scopes injected

	CollectWork Mean // work units per completed collection
}

// String summarizes the counters on one line.
func (p *Pipeline) String() string {
	return fmt.Sprintf(
		"frees=%d scc=%d deferred=%d captured=%d escaped=%d consumed=%d tethers=%d regions=%d",
		p.FreesEmitted.Get(), p.SCCRoots.Get(), p.DeferredRoutes.Get(),
		p.CapturedSkips.Get(), p.EscapeSkips.Get(), p.ConsumedSkips.Get(),
		p.Tethers.Get(), p.Regions.Get(),
	)
}
