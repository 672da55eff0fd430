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
	"github.com/xyproto/env/v2"

	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/xunsafe"
)

// BatchSize is the default number of decrements applied per safe point.
var BatchSize = env.Int("LOAM_RC_BATCH", 32)

// deferEntry is one queued object with its outstanding decrement count.
type deferEntry struct {
	obj     xunsafe.Addr[Obj]
	pending int
	next    *deferEntry
}

// Deferred is the batched decrement queue for graphs whose mutability
// precludes static analysis. It is per-thread; see [TLS].
type Deferred struct {
	freer Freer

	head    *deferEntry
	pending int
	batch   int

	// applied counts every dec_ref performed, for the conservation
	// invariant: eventually applied == deferred.
	deferred, applied int
}

// NewDeferred returns a queue applying decrements through f.
func NewDeferred(f Freer) *Deferred {
	return &Deferred{freer: f, batch: BatchSize}
}

// SetBatch overrides the per-safe-point decrement budget.
func (d *Deferred) SetBatch(n int) {
	if n > 0 {
		d.batch = n
	}
}

// Pending returns the number of decrements queued and not yet applied.
func (d *Deferred) Pending() int { return d.pending }

// Deferred returns the total number of Defer calls.
func (d *Deferred) Deferred() int { return d.deferred }

// Applied returns the total number of underlying dec_ref invocations.
func (d *Deferred) Applied() int { return d.applied }

// Defer queues one decrement against o. If o is already queued its pending
// count is bumped; otherwise a new entry is prepended.
func (d *Deferred) Defer(o *Obj) {
	d.deferred++
	d.pending++

	addr := xunsafe.AddrOf(o)
	for e := d.head; e != nil; e = e.next {
		if e.obj == addr {
			e.pending++
			return
		}
	}
	d.head = &deferEntry{obj: addr, pending: 1, next: d.head}
}

// ShouldProcess reports whether the queue has grown past the processing
// threshold.
func (d *Deferred) ShouldProcess() bool {
	return d.pending > 2*d.batch
}

// Process applies up to one batch of decrements. If the budget runs out
// mid-entry, the remainder is re-queued at the head for the next safe
// point.
func (d *Deferred) Process() {
	budget := d.batch
	for budget > 0 && d.head != nil {
		e := d.head

		n := min(e.pending, budget)
		o := e.obj.AssertValid()
		for range n {
			d.freer.DecRef(o)
		}
		e.pending -= n
		d.pending -= n
		d.applied += n
		budget -= n

		if e.pending == 0 {
			d.head = e.next
		}
	}
	debug.Log(nil, "deferred", "applied %d, %d pending", d.applied, d.pending)
}

// Flush drains the queue unconditionally. Called on region teardown and
// process exit; after a flush, every deferred decrement has been applied.
func (d *Deferred) Flush() {
	for d.head != nil {
		e := d.head
		o := e.obj.AssertValid()
		for range e.pending {
			d.freer.DecRef(o)
		}
		d.pending -= e.pending
		d.applied += e.pending
		d.head = e.next
	}
}
