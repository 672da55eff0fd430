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

func newManager(t *testing.T) *region.Manager {
	t.Helper()
	return region.NewManager(heap.BuildTable(nil))
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	r := m.Open(nil)

	o, err := r.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	assert.Equal(t, r, region.Owner(o))
	assert.Equal(t, 1, r.Heap().Live())

	m.Close(r)
	assert.True(t, r.Frozen())

	_, err = r.Alloc(heap.TagPair, 2)
	assert.ErrorIs(t, err, region.ErrFrozen)
}

// Property 2: a leased region is not reclaimed until the lease releases.
func TestLeaseBlocksReclaim(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	r := m.Open(nil)

	_, err := r.Alloc(heap.TagAtom, 1)
	require.NoError(t, err)

	tether, err := m.Tether(r, nil)
	require.NoError(t, err)
	gen := r.Generation()

	m.Close(r)
	assert.False(t, m.TryReclaim(r), "leased region must not reclaim")
	assert.Equal(t, gen, r.Generation(), "generation stable while leased")

	tether.Release()
	m.ReclaimPending()
	assert.NotEqual(t, gen, r.Generation(), "reclaim bumps the generation")
}

func TestStaleTether(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	r := m.Open(nil)
	o, err := r.Alloc(heap.TagAtom, 1)
	require.NoError(t, err)

	tether, err := m.Tether(r, nil)
	require.NoError(t, err)

	got, err := tether.Through(o)
	require.NoError(t, err)
	assert.Equal(t, o, got)

	// Reclaim out from under a second, already-released borrow path.
	tether.Release()
	m.Close(r)
	m.ReclaimPending()

	_, err = tether.Through(o)
	assert.ErrorIs(t, err, region.ErrStaleTether)
}

func TestTetherRelease_Idempotent(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	r := m.Open(nil)

	tether, err := m.Tether(r, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), r.Leases())

	tether.Release()
	tether.Release()
	assert.Equal(t, uint32(0), r.Leases())
}

func TestCrossRegionWrite(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	parent := m.Open(nil)
	child := m.Open(parent)
	sibling := m.Open(parent)

	po, err := parent.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	co, err := child.Alloc(heap.TagPair, 2)
	require.NoError(t, err)
	so, err := sibling.Alloc(heap.TagPair, 2)
	require.NoError(t, err)

	// Child objects may be referenced from the parent region.
	assert.NoError(t, m.Write(po, 0, region.StrongRef(heap.FromObj(co))))

	// Sibling regions do not satisfy the parent relation.
	err = m.Write(co, 0, region.StrongRef(heap.FromObj(so)))
	assert.ErrorIs(t, err, region.ErrCrossRegionWrite)

	// Fixnums carry no region and always store.
	assert.NoError(t, m.Write(co, 0, region.StrongRef(heap.FromInt(7))))
}

func TestBackEdgeViolation(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	typ, err := reg.Register("Node", []registry.Field{
		{Name: "next", TypeName: "Node", Scannable: true},
		{Name: "prev", TypeName: "Node", Scannable: true},
	})
	require.NoError(t, err)
	reg.Seal()

	m := region.NewManager(heap.BuildTable(reg))
	r := m.Open(nil)
	tag := heap.UserTag(typ.Tag)

	a, err := r.Alloc(tag, 2)
	require.NoError(t, err)
	b, err := r.Alloc(tag, 2)
	require.NoError(t, err)

	// next (field 0) is strong; prev (field 1) was demoted to weak.
	assert.NoError(t, m.Write(a, 0, region.StrongRef(heap.FromObj(b))))

	err = m.Write(b, 1, region.StrongRef(heap.FromObj(a)))
	assert.ErrorIs(t, err, region.ErrBackEdgeViolation)

	assert.NoError(t, m.Write(b, 1, region.WeakRef(heap.FromObj(a))))
}

func TestRegionPoolReuse(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	r1 := m.Open(nil)
	_, err := r1.Alloc(heap.TagAtom, 1)
	require.NoError(t, err)
	m.Close(r1)

	r2 := m.Open(nil)
	assert.Equal(t, 0, r2.Heap().Live(), "pooled region comes back empty")
	m.Close(r2)
}

// The tether cache is opt-in and purely an optimization: repeated borrows
// reuse the cached tether, and behavior with the cache on matches the
// uncached protocol.
func TestTetherCacheAblation(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, m *region.Manager) {
		r := m.Open(nil)
		o, err := r.Alloc(heap.TagAtom, 1)
		require.NoError(t, err)

		t1, err := m.CachedTether(r, nil)
		require.NoError(t, err)
		t2, err := m.CachedTether(r, nil)
		require.NoError(t, err)

		got, err := t1.Through(o)
		require.NoError(t, err)
		assert.Equal(t, o, got)

		t1.Release()
		t2.Release()
		m.DropCached(r)
		m.Close(r)
		m.ReclaimPending()

		_, err = t1.Through(o)
		assert.ErrorIs(t, err, region.ErrStaleTether)
	}

	t.Run("cached", func(t *testing.T) {
		t.Parallel()
		m := newManager(t)
		m.EnableTetherCache(8)
		run(t, m)
	})
	t.Run("uncached", func(t *testing.T) {
		t.Parallel()
		run(t, newManager(t))
	})
}

func TestWith_ClosesOnPanic(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	var leaked *region.Region

	func() {
		defer func() { _ = recover() }()
		_ = m.With(nil, func(r *region.Region) error {
			leaked = r
			panic("unwind")
		})
	}()

	require.NotNil(t, leaked)
	assert.True(t, leaked.Frozen(), "scope exit must close the region")
}
