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

// Budget is the default number of work units (marks, sweeps, clears) a
// collector invocation may spend before yielding to the next safe point.
var Budget = env.Int("LOAM_COLLECT_BUDGET", 256)

// MaxFrontier bounds the collector's explicit mark stack.
const MaxFrontier = 1024

// MergePolicy decides how unassigned scc ids behave when independently
// built subgraphs meet at collection time.
type MergePolicy uint8

const (
	// MergeEager stamps every object reached from the root with the
	// root's id, unifying previously distinct classes.
	MergeEager MergePolicy = iota
	// MergeDeferred stamps only unassigned objects; objects that already
	// belong to another class keep it and are swept with that class.
	MergeDeferred
)

// phase is the collector's resumable position.
type phase uint8

const (
	phaseIdle phase = iota
	phaseMark
	phaseSweep
	phaseClear
)

// Collector reclaims acyclic-by-type but potentially aliased subgraphs in
// bounded work units. One collector serves one heap and is not safe for
// concurrent use; each thread owns its own.
type Collector struct {
	heap  *Heap
	table *Table

	Policy MergePolicy
	Budget int

	scanTag  uint32
	phase    phase
	rootID   uint32
	frontier []xunsafe.Addr[Obj]
	cursor   int // resumption point into heap.objects for sweep/clear
	freed    int
}

// NewCollector returns a collector over h.
func NewCollector(h *Heap, t *Table) *Collector {
	return &Collector{heap: h, table: t, Budget: Budget}
}

// Pending reports whether a collection is paused mid-phase awaiting the
// next safe point.
func (c *Collector) Pending() bool { return c.phase != phaseIdle }

// Freed returns the number of objects reclaimed by the last completed
// collection.
func (c *Collector) Freed() int { return c.freed }

// CollectFrom starts a collection with root as the single live entry
// point of its equivalence class, then runs work units until the budget is
// exhausted or the collection completes. Call [Collector.Step] at
// subsequent safe points to finish a paused collection; correctness does
// not depend on completing in one call.
//
// Returns true if the collection completed within this invocation.
func (c *Collector) CollectFrom(root *Obj) bool {
	debug.Assert(c.phase == phaseIdle, "collection already in progress")

	c.scanTag++
	if root.sccID == 0 {
		root.sccID = c.heap.MintSCCID()
	}
	c.rootID = root.sccID
	c.frontier = append(c.frontier[:0], xunsafe.AddrOf(root))
	c.phase = phaseMark
	c.cursor = 0
	c.freed = 0

	return c.Step()
}

// Step spends up to Budget work units on the collection in progress.
// Returns true when no work remains.
func (c *Collector) Step() bool {
	budget := c.Budget

	for budget > 0 {
		switch c.phase {
		case phaseIdle:
			return true
		case phaseMark:
			budget = c.mark(budget)
		case phaseSweep:
			budget = c.sweep(budget)
		case phaseClear:
			budget = c.clear(budget)
		}
	}
	return c.phase == phaseIdle
}

// mark pops the frontier, stamping scan tags and mark bits and pushing
// unmarked strong children. Weak edges are ignored, and the scan tag
// check bounds revisits, which together guarantee termination on cyclic
// inputs.
func (c *Collector) mark(budget int) int {
	for budget > 0 && len(c.frontier) > 0 {
		budget--

		top := len(c.frontier) - 1
		o := c.frontier[top].AssertValid()
		c.frontier = c.frontier[:top]
		c.visit(o)
	}

	if len(c.frontier) == 0 {
		c.phase = phaseSweep
		c.cursor = 0
	}
	return budget
}

// visit stamps one object and enqueues its strong children. A saturated
// frontier never drops a child (that would let the sweep free a live
// object); overflow is visited inline instead.
func (c *Collector) visit(o *Obj) {
	if o.scanTag == c.scanTag {
		return
	}
	o.scanTag = c.scanTag
	o.mark = markLive

	switch c.Policy {
	case MergeEager:
		o.sccID = c.rootID
	case MergeDeferred:
		if o.sccID == 0 {
			o.sccID = c.rootID
		}
	}

	c.table.StrongChildren(o, func(child *Obj) {
		if child.scanTag == c.scanTag {
			return
		}
		if len(c.frontier) < MaxFrontier {
			c.frontier = append(c.frontier, xunsafe.AddrOf(child))
			return
		}
		c.visit(child)
	})
}

// sweep frees every object of the root's class that the mark phase did not
// reach.
func (c *Collector) sweep(budget int) int {
	objects := c.heap.Objects()
	for budget > 0 && c.cursor < len(objects) {
		budget--

		o := objects[c.cursor].AssertValid()
		c.cursor++

		if o.Dead() || o.sccID != c.rootID {
			continue
		}
		if o.scanTag == c.scanTag {
			continue
		}
		c.heap.Release(o)
		c.freed++
	}

	if c.cursor >= len(objects) {
		c.phase = phaseClear
		c.cursor = 0
	}
	return budget
}

// clear resets mark bits in a second budget-bounded pass; partial clears
// resume on the next safe point.
func (c *Collector) clear(budget int) int {
	objects := c.heap.Objects()
	for budget > 0 && c.cursor < len(objects) {
		budget--

		o := objects[c.cursor].AssertValid()
		c.cursor++

		if !o.Dead() && o.mark == markLive {
			o.mark = markClear
		}
	}

	if c.cursor >= len(objects) {
		c.phase = phaseIdle
		debug.Log(nil, "collect", "done, freed %d", c.freed)
	}
	return budget
}
