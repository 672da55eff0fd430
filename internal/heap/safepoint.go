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

package heap

import (
	"github.com/timandy/routine"
)

// TLS is the per-thread reclamation state: the deferred-decrement queue
// and any collector paused mid-collection. Safe points drain both within
// their budgets.
//
// The queue and the collector's scan-tag counter are deliberately
// per-thread: threads own private root regions, so no cross-thread
// synchronization is needed here.
type TLS struct {
	Deferred   *Deferred
	Collectors []*Collector
}

var tls = routine.NewThreadLocalWithInitial(func() *TLS { return &TLS{} })

// ThreadState returns this thread's reclamation state.
func ThreadState() *TLS {
	return tls.Get()
}

// Attach installs a deferred queue for this thread if none exists.
func (t *TLS) Attach(f Freer) {
	if t.Deferred == nil {
		t.Deferred = NewDeferred(f)
	}
}

// Park records a collector with unfinished work for resumption at
// subsequent safe points.
func (t *TLS) Park(c *Collector) {
	t.Collectors = append(t.Collectors, c)
}

// SafePoint performs bounded deferred work: one deferred-RC batch when the
// queue has crossed its threshold, and one budget's worth of any paused
// collection. Generated code calls this; it never blocks for unbounded
// time.
func (t *TLS) SafePoint() {
	if t.Deferred != nil && t.Deferred.ShouldProcess() {
		t.Deferred.Process()
	}

	keep := t.Collectors[:0]
	for _, c := range t.Collectors {
		if !c.Step() {
			keep = append(keep, c)
		}
	}
	t.Collectors = keep
}

// Drain runs every outstanding piece of deferred work to completion:
// region teardown and process exit call this.
func (t *TLS) Drain() {
	if t.Deferred != nil {
		t.Deferred.Flush()
	}
	for _, c := range t.Collectors {
		for !c.Step() {
		}
	}
	t.Collectors = t.Collectors[:0]
}
