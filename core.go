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

package loam

import (
	"sync"

	"github.com/timandy/routine"

	"github.com/loamlang/loam/internal/heap"
	"github.com/loamlang/loam/internal/region"
	"github.com/loamlang/loam/internal/registry"
	"github.com/loamlang/loam/internal/stats"
)

// Core is one instance of the memory core: the type registry, the region
// manager, and the per-thread reclamation machinery.
//
// A Core is built once at startup; type registration must finish before
// the first allocation, after which the registry is immutable and the Core
// is safe for concurrent use.
type Core struct {
	reg *registry.Registry
	mgr *region.Manager

	sealOnce sync.Once
	table    *heap.Table

	policy heap.MergePolicy
	budget int
	stats  stats.Pipeline

	// Each OS thread owns a private root region.
	root routine.ThreadLocal[*region.Region]
}

// Option configures a [Core].
type Option struct{ apply func(*Core) }

// WithTetherCache enables the per-thread tether cache with the given
// capacity. The cache is an opt-in optimization for repeat borrows;
// correctness never depends on it.
func WithTetherCache(capacity int) Option {
	return Option{func(c *Core) { c.mgr.EnableTetherCache(capacity) }}
}

// WithMergePolicy selects how unassigned cycle-class ids behave when
// independently built subgraphs meet at collection time.
func WithMergePolicy(p MergePolicy) Option {
	return Option{func(c *Core) { c.policy = heap.MergePolicy(p) }}
}

// WithCollectBudget overrides the collector's per-safe-point work budget.
func WithCollectBudget(units int) Option {
	return Option{func(c *Core) { c.budget = units }}
}

// MergePolicy mirrors the collector's id-merge configuration choice.
type MergePolicy uint8

const (
	// MergeEager unifies previously distinct classes during the mark
	// phase.
	MergeEager MergePolicy = MergePolicy(heap.MergeEager)
	// MergeDeferred keeps existing class assignments and stamps only
	// unassigned objects.
	MergeDeferred MergePolicy = MergePolicy(heap.MergeDeferred)
)

// New returns a fresh Core.
func New(opts ...Option) *Core {
	c := &Core{
		reg:    registry.New(),
		budget: heap.Budget,
	}
	c.mgr = region.NewManager(nil) // table installed at seal
	c.root = routine.NewThreadLocal[*region.Region]()
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// seal freezes the registry and builds the per-tag dispatch table. Runs
// once, implicitly, before the first allocation or annotation.
func (c *Core) seal() {
	c.sealOnce.Do(func() {
		c.reg.Seal()
		c.table = heap.BuildTable(c.reg)
		c.mgr.SetTable(c.table)
	})
}

// Manager exposes the region manager.
func (c *Core) Manager() *region.Manager {
	c.seal()
	return c.mgr
}

// Open creates a region under parent; nil parent opens a region under
// this thread's root region.
func (c *Core) Open(parent *Region) *Region {
	c.seal()
	if parent == nil {
		parent = c.Root()
	}
	return c.mgr.Open(parent)
}

// Close seals r; its memory is reclaimed once the last lease releases.
func (c *Core) Close(r *Region) {
	c.mgr.Close(r)
}

// WithRegion opens a region under parent and guarantees it is closed on
// every exit path of body.
func (c *Core) WithRegion(parent *Region, body func(*Region) error) error {
	c.seal()
	if parent == nil {
		parent = c.Root()
	}
	return c.mgr.With(parent, body)
}

// Root returns this thread's root region, creating it on first use.
func (c *Core) Root() *Region {
	c.seal()
	r := c.root.Get()
	if r == nil {
		r = c.mgr.Open(nil)
		c.root.Set(r)
	}
	return r
}

// AllocIn allocates an object with the given tag and payload word count in
// r.
func (c *Core) AllocIn(r *Region, tag Tag, fields int) (*Obj, error) {
	c.seal()
	return r.Alloc(heap.Tag(tag), fields)
}

// Tether acquires a validated borrow of target for this thread; it routes
// through the tether cache when one is enabled.
func (c *Core) Tether(target *Region) (*Tether, error) {
	c.seal()
	return c.mgr.CachedTether(target, c.Root())
}

// Transmigrate deep-copies the graph rooted at root into dst and returns
// the copy.
func (c *Core) Transmigrate(dst *Region, root *Obj) (*Obj, error) {
	c.seal()
	return c.mgr.Transmigrate(dst, root)
}

// NewChannel returns a channel performing implicit transmigration on send
// and receive.
func (c *Core) NewChannel(buffer int) *Channel {
	c.seal()
	return c.mgr.NewChannel(buffer)
}

// NewCollector returns a cycle collector over r's heap, configured with
// this core's merge policy and budget.
func (c *Core) NewCollector(r *Region) *Collector {
	c.seal()
	col := heap.NewCollector(r.Heap(), c.table)
	col.Policy = c.policy
	col.Budget = c.budget
	return col
}

// Freer returns the per-shape free functions over r's heap.
func (c *Core) Freer(r *Region) Freer {
	c.seal()
	return c.mgr.Freer(r)
}

// Deferred returns this thread's deferred-decrement queue, bound to r's
// heap on first use.
func (c *Core) Deferred(r *Region) *Deferred {
	c.seal()
	state := heap.ThreadState()
	state.Attach(c.mgr.Freer(r))
	return state.Deferred
}

// SafePoint runs one budget's worth of deferred work: a deferred-RC batch
// if the queue has crossed its threshold, a step of any paused collection,
// and retries of deferred region reclamations. Generated code calls this;
// it never blocks for unbounded time.
func (c *Core) SafePoint() {
	c.seal()
	heap.ThreadState().SafePoint()
	c.mgr.ReclaimPending()
}

// Shutdown drains every queue unconditionally, as on process exit.
func (c *Core) Shutdown() {
	c.seal()
	heap.ThreadState().Drain()
	c.mgr.ReclaimPending()
}

// Public aliases for the runtime types the front end touches. The concrete
// implementations live in internal packages.
type (
	// Obj is a heap object header; payload words follow it.
	Obj = heap.Obj
	// Ref is a tagged reference word: object address, fixnum, or nil.
	Ref = heap.Ref
	// Tag identifies an object's type.
	Tag = heap.Tag
	// Region is a scoped allocation domain.
	Region = region.Region
	// Tether is a validated cross-region borrow.
	Tether = region.Tether
	// Channel transfers object graphs between threads.
	Channel = region.Channel
	// Collector is the budgeted cycle collector.
	Collector = heap.Collector
	// Deferred is the batched decrement queue.
	Deferred = heap.Deferred
	// Freer exposes the per-shape free functions.
	Freer = heap.Freer
)

// Re-exported built-in tags.
const (
	TagAtom    = heap.TagAtom
	TagPair    = heap.TagPair
	TagBox     = heap.TagBox
	TagClosure = heap.TagClosure
	TagVector  = heap.TagVector
)

// FromInt packs a small integer into an unboxed reference.
func FromInt(v int) Ref { return heap.FromInt(v) }

// FromObj returns a reference to o.
func FromObj(o *Obj) Ref { return heap.FromObj(o) }
