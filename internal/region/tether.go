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

package region

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/timandy/routine"

	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/heap"
)

// Tether is a borrow capability: while it is alive, the target region will
// not be physically reclaimed, and every dereference through it validates
// the generation snapshot taken at acquisition.
type Tether struct {
	target *Region
	holder *Region
	gen    uint32

	released bool
}

// Tether acquires a borrow of target for code running in holder. holder
// may be nil for borrows taken outside any region scope.
func (m *Manager) Tether(target, holder *Region) (*Tether, error) {
	for {
		n := target.leases.Load()
		if n == math.MaxUint32 {
			return nil, fmt.Errorf("%w: region %d", ErrLeaseOverflow, target.id)
		}
		if target.leases.CompareAndSwap(n, n+1) {
			break
		}
	}

	// The snapshot is taken after the lease is visible, so a concurrent
	// reclaim either sees our lease or we see its generation bump.
	t := &Tether{target: target, holder: holder, gen: target.gen.Load()}
	debug.Log(nil, "tether", "region %d gen=%d", target.id, t.gen)
	return t, nil
}

// Through validates a borrowed dereference: o must still belong to the
// tethered generation of the target region.
func (t *Tether) Through(o *heap.Obj) (*heap.Obj, error) {
	if t.released || t.target.gen.Load() != t.gen {
		return nil, fmt.Errorf("%w: region %d (%v)", ErrStaleTether, t.target.id, t.target.trace)
	}
	return o, nil
}

// Target returns the tethered region.
func (t *Tether) Target() *Region { return t.target }

// Release drops the lease. If the region is frozen and this was the last
// lease, it is queued for reclamation at the next safe point. Idempotent.
func (t *Tether) Release() {
	if t.released {
		return
	}
	t.released = true

	if t.target.leases.Add(^uint32(0)) == 0 && t.target.frozen.Load() {
		m := t.target.mgr
		m.mu.Lock()
		m.pendingQ = append(m.pendingQ, t.target)
		m.mu.Unlock()
	}
	debug.Log(nil, "untether", "region %d", t.target.id)
}

// tetherCache is the per-thread LRU of live borrows for repeat access to
// the same region. Eviction releases the cached tether.
type tetherCache struct {
	impl *lru.Cache[uint32, *Tether]
}

var cacheTLS = routine.NewThreadLocal[*tetherCache]()

// EnableTetherCache turns on the per-thread tether cache with the given
// capacity. The cache is purely an optimization: correctness never
// depends on it, and it is off by default.
func (m *Manager) EnableTetherCache(capacity int) {
	m.mu.Lock()
	m.cacheSize = capacity
	m.mu.Unlock()
}

// CachedTether returns a live tether for target, reusing this thread's
// cached borrow when the cache is enabled.
func (m *Manager) CachedTether(target, holder *Region) (*Tether, error) {
	m.mu.Lock()
	size := m.cacheSize
	m.mu.Unlock()

	if size == 0 {
		return m.Tether(target, holder)
	}

	cache := cacheTLS.Get()
	if cache == nil {
		impl, err := lru.NewWithEvict(size, func(_ uint32, t *Tether) { t.Release() })
		if err != nil {
			return m.Tether(target, holder)
		}
		cache = &tetherCache{impl: impl}
		cacheTLS.Set(cache)
	}

	if t, ok := cache.impl.Get(target.id); ok && !t.released && t.target.gen.Load() == t.gen {
		return t, nil
	}

	t, err := m.Tether(target, holder)
	if err != nil {
		return nil, err
	}
	cache.impl.Add(target.id, t)
	return t, nil
}

// DropCached evicts (and releases) this thread's cached tether for a
// region. [Manager.Close] does not call it: a cached tether keeps its
// lease, and so keeps the region from being reclaimed, until it is dropped
// here or evicted from the cache.
func (m *Manager) DropCached(target *Region) {
	if cache := cacheTLS.Get(); cache != nil {
		cache.impl.Remove(target.id)
	}
}
