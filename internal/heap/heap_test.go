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

package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loam/internal/arena"
	"github.com/loamlang/loam/internal/heap"
	"github.com/loamlang/loam/internal/registry"
)

// ringTable builds a registry with a doubly-linked Node type: next is the
// strong spine, prev the demoted back edge.
func ringTable(t *testing.T) (*heap.Table, heap.Tag) {
	t.Helper()

	reg := registry.New()
	typ, err := reg.Register("Node", []registry.Field{
		{Name: "next", TypeName: "Node", Scannable: true},
		{Name: "prev", TypeName: "Node", Scannable: true},
		{Name: "val", TypeName: "int"},
	})
	require.NoError(t, err)
	reg.Seal()
	require.Equal(t, registry.Weak, reg.Lookup("Node").Fields[1].Strength)

	return heap.BuildTable(reg), heap.UserTag(typ.Tag)
}

// buildRing links n nodes through next and prev, closing both directions.
func buildRing(t *testing.T, h *heap.Heap, tag heap.Tag, n int) []*heap.Obj {
	t.Helper()

	nodes := make([]*heap.Obj, n)
	for i := range nodes {
		o, err := h.Alloc(tag, 3)
		require.NoError(t, err)
		o.Store(2, heap.FromInt(i))
		nodes[i] = o
	}
	for i, o := range nodes {
		o.Store(0, heap.FromObj(nodes[(i+1)%n]))
		o.Store(1, heap.FromObj(nodes[(i+n-1)%n]))
	}
	return nodes
}

func TestAllocFixnumsAndFields(t *testing.T) {
	t.Parallel()

	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	o, err := h.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	o.Store(0, heap.FromInt(42))
	o.Store(1, heap.FromInt(-7))

	assert.True(t, o.Load(0).IsInt())
	assert.Equal(t, 42, o.Load(0).Int())
	assert.Equal(t, -7, o.Load(1).Int())
	assert.Equal(t, 1, h.Live())
}

func TestWeakHandleInvalidation(t *testing.T) {
	t.Parallel()

	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	o, err := h.Alloc(heap.TagAtom, 1)
	require.NoError(t, err)

	w := heap.WeakTo(o)
	assert.Equal(t, o, w.Deref())

	h.Release(o)
	assert.Nil(t, w.Deref(), "freed target must not be observable")
}

// S4: a 1000-node doubly-linked ring becomes unreachable; the collector
// reclaims all of it within a bounded number of safe-point steps.
func TestCollectRing(t *testing.T) {
	t.Parallel()

	table, tag := ringTable(t)
	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	nodes := buildRing(t, h, tag, 1000)
	require.Equal(t, 1000, h.Live())

	// Stamp the ring as one equivalence class, as region allocation does.
	id := h.MintSCCID()
	for _, o := range nodes {
		o.SetSCCID(id)
	}

	// The ring is unreachable: collect with a dead root stand-in. Mark
	// from a single still-live external root that reaches nothing.
	root, err := h.Alloc(tag, 3)
	require.NoError(t, err)
	root.SetSCCID(id)

	c := heap.NewCollector(h, table)
	c.Budget = 128

	steps := 1
	done := c.CollectFrom(root)
	for !done {
		steps++
		done = c.Step()
		require.Less(t, steps, 200, "collection must terminate")
	}

	assert.Equal(t, 1000, c.Freed())
	assert.Equal(t, 1, h.Live(), "only the root survives")
	assert.Greater(t, steps, 1, "work is split across safe points")
}

func TestCollectKeepsReachable(t *testing.T) {
	t.Parallel()

	table, tag := ringTable(t)
	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	nodes := buildRing(t, h, tag, 10)
	id := h.MintSCCID()
	for _, o := range nodes {
		o.SetSCCID(id)
	}

	c := heap.NewCollector(h, table)
	for done := c.CollectFrom(nodes[0]); !done; done = c.Step() {
	}

	// The spine is strong, so the whole ring is reachable from any node.
	assert.Zero(t, c.Freed())
	assert.Equal(t, 10, h.Live())
}

func TestMergePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy heap.MergePolicy
		// After collecting from a root in class A that reaches an object
		// of class B: does B's object adopt A's class?
		adopts bool
	}{
		{name: "eager", policy: heap.MergeEager, adopts: true},
		{name: "deferred", policy: heap.MergeDeferred, adopts: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			table, tag := ringTable(t)
			a := new(arena.Arena)
			defer a.Free()
			h := heap.New(a)

			// Two independently built nodes, linked after construction.
			x, err := h.Alloc(tag, 3)
			require.NoError(t, err)
			y, err := h.Alloc(tag, 3)
			require.NoError(t, err)
			x.SetSCCID(h.MintSCCID())
			y.SetSCCID(h.MintSCCID())
			x.Store(0, heap.FromObj(y))

			c := heap.NewCollector(h, table)
			c.Policy = tt.policy
			for done := c.CollectFrom(x); !done; done = c.Step() {
			}

			if tt.adopts {
				assert.Equal(t, x.SCCID(), y.SCCID())
			} else {
				assert.NotEqual(t, x.SCCID(), y.SCCID())
			}
			assert.Equal(t, 2, h.Live(), "both reachable, nothing freed")
		})
	}
}

// Property 5: decrements applied equals decrements deferred, given an
// eventual flush.
func TestDeferredConservation(t *testing.T) {
	t.Parallel()

	table, tag := ringTable(t)
	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	d := heap.NewDeferred(heap.Freer{H: h, T: table})
	d.SetBatch(4)

	var objs []*heap.Obj
	for range 10 {
		o, err := h.Alloc(tag, 3)
		require.NoError(t, err)
		o.SetRC(5)
		objs = append(objs, o)
	}

	// 10 objects x 5 decrements, interleaved so entries accumulate
	// pending counts.
	for range 5 {
		for _, o := range objs {
			d.Defer(o)
		}
	}
	assert.Equal(t, 50, d.Deferred())
	assert.Equal(t, 50, d.Pending())

	for d.ShouldProcess() {
		d.Process()
	}
	d.Flush()

	assert.Equal(t, d.Deferred(), d.Applied())
	assert.Zero(t, d.Pending())
	assert.Zero(t, h.Live(), "every count reached zero")
}

func TestDeferredBatchBound(t *testing.T) {
	t.Parallel()

	table, tag := ringTable(t)
	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	d := heap.NewDeferred(heap.Freer{H: h, T: table})
	d.SetBatch(3)

	o, err := h.Alloc(tag, 3)
	require.NoError(t, err)
	o.SetRC(10)
	for range 10 {
		d.Defer(o)
	}

	// One batch applies exactly three decrements; the remainder stays
	// queued at the head.
	d.Process()
	assert.Equal(t, 3, d.Applied())
	assert.Equal(t, 7, d.Pending())
	assert.False(t, o.Dead())

	d.Flush()
	assert.True(t, o.Dead())
}

func TestFreeListIterative(t *testing.T) {
	t.Parallel()

	table, _ := ringTable(t)
	a := new(arena.Arena)
	defer a.Free()
	h := heap.New(a)

	// (1 2 3) as a cons chain.
	var tail heap.Ref
	for i := 3; i >= 1; i-- {
		o, err := h.Alloc(heap.TagPair, 2)
		require.NoError(t, err)
		o.Store(0, heap.FromInt(i))
		o.Store(1, tail)
		tail = heap.FromObj(o)
	}
	require.Equal(t, 3, h.Live())

	f := heap.Freer{H: h, T: table}
	f.FreeList(tail.Obj())
	assert.Zero(t, h.Live())
}
