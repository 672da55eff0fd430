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

// Package region implements scoped object regions, the tether protocol for
// safe cross-region borrowing, and transmigration of object graphs between
// regions.
//
// A region exclusively owns every object allocated in it. A region closed
// for allocation ("frozen") is physically reclaimed only once its lease
// count drops to zero: tethers are the only sanctioned way to read another
// region's objects, and they hold leases.
package region

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/loamlang/loam/internal/arena"
	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/heap"
	"github.com/loamlang/loam/internal/registry"
)

var (
	// ErrStaleTether is a generation mismatch on a tether dereference:
	// the target region was reclaimed while the borrow was live.
	ErrStaleTether = errors.New("loam: stale tether")

	// ErrCrossRegionWrite is an attempted pointer write between regions
	// that do not satisfy the parent relation.
	ErrCrossRegionWrite = errors.New("loam: cross-region write")

	// ErrBackEdgeViolation is a strong write into a field the analysis
	// classified as weak.
	ErrBackEdgeViolation = errors.New("loam: strong write into weak field")

	// ErrFrozen is an allocation in a region closed for allocation.
	ErrFrozen = errors.New("loam: allocation in frozen region")

	// ErrLeaseOverflow is a tether acquisition on a region whose lease
	// count is saturated.
	ErrLeaseOverflow = errors.New("loam: lease count overflow")
)

// sccIDStride is the width of each region's scc id minting range.
const sccIDStride = 1 << 20

// Region is a named, scoped allocation domain with its own arena.
type Region struct {
	id    uint32
	trace uuid.UUID

	parent *Region
	mgr    *Manager

	arena *arena.Arena
	heap  *heap.Heap

	// gen is the region's generation counter (Generation reports its low
	// 16 bits); tethers snapshot it and validate on deref. Reclaiming bumps it, with release
	// ordering against tether snapshots' acquire loads.
	gen    atomic.Uint32
	leases atomic.Uint32
	frozen atomic.Bool

	// pooled marks a reclaimed control block sitting in the manager's
	// free pool; guarded by the manager's mutex.
	pooled bool

	sccIDBase uint32
}

// ID returns the region's process-unique id.
func (r *Region) ID() uint32 { return r.id }

// Trace returns the region's diagnostic trace id.
func (r *Region) Trace() uuid.UUID { return r.trace }

// Parent returns the region's parent, or nil for a root region.
func (r *Region) Parent() *Region { return r.parent }

// Heap returns the region's object heap.
func (r *Region) Heap() *heap.Heap { return r.heap }

// Arena returns the region's backing arena.
func (r *Region) Arena() *arena.Arena { return r.arena }

// Generation returns the region's current generation.
func (r *Region) Generation() uint16 { return uint16(r.gen.Load()) }

// Frozen reports whether the region is closed for allocation.
func (r *Region) Frozen() bool { return r.frozen.Load() }

// Leases returns the current lease count.
func (r *Region) Leases() uint32 { return r.leases.Load() }

// Alloc allocates an object in this region.
func (r *Region) Alloc(tag heap.Tag, fields int) (*heap.Obj, error) {
	if r.frozen.Load() {
		return nil, fmt.Errorf("%w: region %d", ErrFrozen, r.id)
	}
	o, err := r.heap.Alloc(tag, fields)
	if err != nil {
		return nil, err
	}
	o.SetRegion(unsafe.Pointer(r))
	return o, nil
}

// Owner returns the region owning o, or nil for the global heap.
func Owner(o *heap.Obj) *Region {
	return (*Region)(o.Region())
}

// Write stores a reference into o's i'th field, enforcing the
// cross-region and back-edge rules:
//
//   - a pointer from region H may be written into region T only when the
//     regions are the same or H is a child of T (transmigrate otherwise);
//   - a field the analysis demoted to weak only accepts weak stores.
func (m *Manager) Write(o *heap.Obj, i int, val Ref) error {
	if m.table.Strength(o, i) == registry.Weak && !val.weak {
		return fmt.Errorf("%w: %s field %d", ErrBackEdgeViolation, m.table.Info(o.Tag()).Name, i)
	}

	if target := val.ref.Obj(); target != nil {
		t := Owner(o)
		h := Owner(target)
		if t != h && (h == nil || h.parent != t) {
			var tid, hid uint32
			if t != nil {
				tid = t.id
			}
			if h != nil {
				hid = h.id
			}
			return fmt.Errorf("%w: region %d into region %d", ErrCrossRegionWrite, hid, tid)
		}
	}

	o.Store(i, val.ref)
	return nil
}

// Ref wraps a heap reference with its write intent, so weak stores are
// explicit at cross-region boundaries.
type Ref struct {
	ref  heap.Ref
	weak bool
}

// StrongRef intends a strong (owning) store.
func StrongRef(r heap.Ref) Ref { return Ref{ref: r} }

// WeakRef intends a weak (relation-only) store.
func WeakRef(r heap.Ref) Ref { return Ref{ref: r, weak: true} }

// Manager owns every region in a process and the pool of recycled control
// blocks.
type Manager struct {
	table *heap.Table

	mu       sync.Mutex
	nextID   uint32
	nextSCC  uint32
	pool     []*Region
	pendingQ []*Region // frozen regions awaiting lease release

	cacheSize int // tether cache capacity; 0 disables
}

// NewManager returns a manager dispatching through table, which may be
// nil until [Manager.SetTable] installs one before the first allocation.
func NewManager(table *heap.Table) *Manager {
	return &Manager{table: table, nextSCC: sccIDStride}
}

// SetTable installs the per-tag dispatch table built at registry seal.
func (m *Manager) SetTable(table *heap.Table) {
	m.mu.Lock()
	m.table = table
	m.mu.Unlock()
}

// Table returns the per-tag dispatch table.
func (m *Manager) Table() *heap.Table { return m.table }

// Freer returns a freer over r's heap.
func (m *Manager) Freer(r *Region) heap.Freer {
	return heap.Freer{H: r.heap, T: m.table}
}

// Open creates a region under parent (nil for a root region). Recycled
// control blocks keep their arenas, so a pooled open commits no new
// memory.
func (m *Manager) Open(parent *Region) *Region {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r *Region
	if n := len(m.pool); n > 0 {
		r = m.pool[n-1]
		m.pool = m.pool[:n-1]
		r.pooled = false
		r.frozen.Store(false)
	} else {
		a := new(arena.Arena)
		r = &Region{arena: a, heap: heap.New(a), mgr: m}
	}

	m.nextID++
	r.id = m.nextID
	r.trace = uuid.New()
	r.parent = parent
	r.sccIDBase = m.nextSCC
	m.nextSCC += sccIDStride
	r.heap.SeedSCCID(r.sccIDBase)

	debug.Log(nil, "open", "region %d (%v) parent=%v", r.id, r.trace, parent)
	return r
}

// Seal closes r for allocation without queueing reclamation; callers use
// it to make a region eligible for the transmigrator's splice fast path.
func (m *Manager) Seal(r *Region) {
	r.frozen.Store(true)
}

// Close seals r against further allocation. If nothing holds a lease the
// region is reclaimed immediately; otherwise reclamation is deferred until
// the last tether releases.
func (m *Manager) Close(r *Region) {
	r.frozen.Store(true)
	if !m.TryReclaim(r) {
		m.mu.Lock()
		m.pendingQ = append(m.pendingQ, r)
		m.mu.Unlock()
		debug.Log(nil, "close", "region %d deferred, %d leases", r.id, r.Leases())
	}
}

// TryReclaim reclaims r if it is frozen with no leases. Idempotent;
// reports whether the region is reclaimed (now or previously).
func (m *Manager) TryReclaim(r *Region) bool {
	if !r.frozen.Load() || r.leases.Load() != 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Someone else may have reclaimed between the check and the lock.
	if r.pooled {
		return true
	}

	// Region teardown flushes this thread's deferred decrements so the
	// conservation invariant holds before the memory goes away.
	heap.ThreadState().Drain()

	// The release store tethers pair their acquire loads against.
	r.gen.Add(1)

	r.arena.Reset()
	r.heap.Forget()
	r.parent = nil
	r.pooled = true
	m.pool = append(m.pool, r)

	debug.Log(nil, "reclaim", "region %d", r.id)
	return true
}

// ReclaimPending retries deferred reclamations; called at safe points.
func (m *Manager) ReclaimPending() {
	m.mu.Lock()
	pending := m.pendingQ
	m.pendingQ = nil
	m.mu.Unlock()

	var still []*Region
	for _, r := range pending {
		if !m.TryReclaim(r) {
			still = append(still, r)
		}
	}

	if len(still) > 0 {
		m.mu.Lock()
		m.pendingQ = append(m.pendingQ, still...)
		m.mu.Unlock()
	}
}

// With opens a region under parent, runs body, and guarantees the region
// is closed on every exit path, panics included.
func (m *Manager) With(parent *Region, body func(*Region) error) error {
	r := m.Open(parent)
	defer m.Close(r)
	return body(r)
}
