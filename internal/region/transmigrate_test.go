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

package region_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loam/internal/heap"
	"github.com/loamlang/loam/internal/region"
	"github.com/loamlang/loam/internal/registry"
)

// buildTree builds a balanced binary tree of the given depth out of pairs
// whose leaves are fixnums; returns the root and the node count.
func buildTree(t *testing.T, r *region.Region, depth int) (*heap.Obj, int) {
	t.Helper()

	count := 0
	var rec func(d int, label int) heap.Ref
	rec = func(d int, label int) heap.Ref {
		if d == 0 {
			return heap.FromInt(label)
		}
		o, err := r.Alloc(heap.TagPair, 2)
		require.NoError(t, err)
		count++
		o.Store(0, rec(d-1, label*2))
		o.Store(1, rec(d-1, label*2+1))
		return heap.FromObj(o)
	}
	root := rec(depth, 1).Obj()
	return root, count
}

// inorder flattens a tree's fixnum leaves.
func inorder(o heap.Ref, out *[]int) {
	if o.IsInt() {
		*out = append(*out, o.Int())
		return
	}
	obj := o.Obj()
	if obj == nil {
		return
	}
	inorder(obj.Load(0), out)
	inorder(obj.Load(1), out)
}

// S3: a depth-5 tree transmigrates with identical traversal; dropping the
// source region makes stale borrows fail; the destination allocated
// exactly the node count.
func TestTransmigrateTree(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	src := m.Open(nil)
	dst := m.Open(nil)

	root, count := buildTree(t, src, 5)
	require.Equal(t, 31, count)

	// A second root in src defeats the splice fast path, forcing a real
	// deep copy.
	_, err := src.Alloc(heap.TagAtom, 1)
	require.NoError(t, err)

	tether, err := m.Tether(src, nil)
	require.NoError(t, err)

	copied, err := m.Transmigrate(dst, root)
	require.NoError(t, err)
	require.NotNil(t, copied)
	assert.NotEqual(t, root, copied)

	var want, got []int
	inorder(heap.FromObj(root), &want)
	inorder(heap.FromObj(copied), &got)
	assert.Equal(t, want, got, "traversal preserved")
	assert.Equal(t, 31, dst.Heap().Live(), "one twin per source node")

	// Drop the source; borrows into it go stale.
	tether.Release()
	m.Close(src)
	m.ReclaimPending()
	_, err = tether.Through(root)
	assert.ErrorIs(t, err, region.ErrStaleTether)
}

func TestTransmigrateSharedSubgraphDedup(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	src := m.Open(nil)
	dst := m.Open(nil)

	shared, err := src.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	shared.Store(0, heap.FromInt(7))

	root, err := src.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	root.Store(0, heap.FromObj(shared))
	root.Store(1, heap.FromObj(shared))

	copied, err := m.Transmigrate(dst, root)
	require.NoError(t, err)

	// The shared child is copied once: both edges land on the same twin.
	assert.Equal(t, copied.Load(0), copied.Load(1))
	assert.Equal(t, 2, dst.Heap().Live())
}

func TestTransmigrateWeakCycle(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	typ, err := reg.Register("Node", []registry.Field{
		{Name: "next", TypeName: "Node", Scannable: true},
		{Name: "prev", TypeName: "Node", Scannable: true},
	})
	require.NoError(t, err)
	reg.Seal()

	m := region.NewManager(heap.BuildTable(reg))
	src := m.Open(nil)
	dst := m.Open(nil)
	tag := heap.UserTag(typ.Tag)

	// Two nodes: a -> b strong, b -> a weak (the back edge).
	a, err := src.Alloc(tag, 2)
	require.NoError(t, err)
	b, err := src.Alloc(tag, 2)
	require.NoError(t, err)
	a.Store(0, heap.FromObj(b))
	b.Store(1, heap.FromObj(a))

	// Defeat the splice path.
	_, err = src.Alloc(heap.TagAtom, 1)
	require.NoError(t, err)

	ca, err := m.Transmigrate(dst, a)
	require.NoError(t, err)

	cb := ca.Load(0).Obj()
	require.NotNil(t, cb)
	assert.NotEqual(t, b, cb)

	// The weak back edge re-resolved into the copy: the cycle is
	// preserved inside dst, not pointing back into src.
	assert.Equal(t, ca, cb.Load(1).Obj())
}

func TestTransmigrateSpliceFastPath(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	src := m.Open(nil)
	dst := m.Open(nil)

	root, count := buildTree(t, src, 4)
	require.Equal(t, 15, count)
	require.Equal(t, 15, src.Heap().Live())

	// The source holds exactly the closure and is sealed: the splice
	// path moves the chunks and keeps addresses stable.
	m.Seal(src)
	copied, err := m.Transmigrate(dst, root)
	require.NoError(t, err)

	assert.Equal(t, root, copied, "splice keeps the original addresses")
	assert.Equal(t, dst, region.Owner(copied))
	assert.Equal(t, 15, dst.Heap().Live())
	assert.Equal(t, 0, src.Heap().Live())
}

func TestTransmigrateSameRegionIsNoop(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	r := m.Open(nil)
	root, _ := buildTree(t, r, 2)

	copied, err := m.Transmigrate(r, root)
	require.NoError(t, err)
	assert.Equal(t, root, copied)
}

func TestTransmigrateAbandonedCopyRewinds(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	src := m.Open(nil)
	dst := m.Open(nil)

	root, _ := buildTree(t, src, 3)
	_, err := src.Alloc(heap.TagAtom, 1) // defeat the splice path
	require.NoError(t, err)

	// A frozen destination rejects the first allocation: the partial
	// copy is abandoned and the destination left untouched.
	m.Seal(dst)
	mark := dst.Arena().Used()

	_, err = m.Transmigrate(dst, root)
	require.Error(t, err)
	assert.Equal(t, 0, dst.Heap().Live())
	assert.Equal(t, mark, dst.Arena().Used())
}

// S5: a cons crosses a channel between goroutines; the receiver reads it
// out of its own region and the sender's region closes clean.
func TestChannelTransfer(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	ch := m.NewChannel(1)

	done := make(chan int)
	go func() {
		recvRegion := m.Open(nil)
		o, err := ch.Recv(recvRegion)
		if err != nil {
			done <- -1
			return
		}
		v := o.Load(0).Int()
		m.Close(recvRegion)
		done <- v
	}()

	sender := m.Open(nil)
	o, err := sender.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	o.Store(0, heap.FromInt(1))
	o.Store(1, heap.FromInt(2))

	require.NoError(t, ch.Send(o))

	m.Close(sender)
	assert.Equal(t, 1, <-done, "receiver sees car == 1")
}
