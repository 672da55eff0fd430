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

// Package heap implements the runtime object model and the two dynamic
// reclamation strategies: the budgeted SCC collector for immutable cycles
// and the deferred reference-count queue for mutable ones.
//
// Objects are allocated out of arena memory and are invisible to Go's
// garbage collector; every reference between objects is a [Ref] word, and
// small integers are packed into Refs directly, avoiding allocation.
package heap

import (
	"unsafe"

	"github.com/loamlang/loam/internal/arena"
	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/xunsafe"
	"github.com/loamlang/loam/internal/xunsafe/layout"
)

// Tag identifies an object's type.
type Tag uint16

// Built-in tags. User-defined types are tagged from TagUser upward in
// registration order.
const (
	TagAtom Tag = iota
	TagPair
	TagString
	TagChar
	TagFloat
	TagVector
	TagDict
	TagSymbol
	TagClosure
	TagPort
	TagForeignLib
	TagForeignPtr
	TagThread
	TagChannel
	TagProcess
	TagContinuation
	TagBox
	TagBounce
	TagSyntax
	TagEffect
	TagError

	TagUser Tag = 64
)

// Obj is the header every heap object carries. Payload words follow the
// header immediately.
//
// The region word points at the owning region's control block, which lives
// on the Go heap and is kept alive by the region manager; it is zero for
// objects on the global heap. Arena memory is never scanned by Go's
// collector, so nothing here may be a Go pointer type.
type Obj struct {
	tag  Tag
	mark uint8
	_    uint8

	// gen invalidates stale references: weak handles and tethers snapshot
	// it and check it on deref. Freeing an object bumps it.
	gen uint16
	_   uint16

	// sccID assigns the object to an equivalence class of potentially
	// cyclic peers; 0 means unassigned.
	sccID uint32

	// scanTag is the generation of the last collector scan that touched
	// this object.
	scanTag uint32

	rc      uint32
	nfields uint32

	region uintptr
}

// HeaderSize is the byte offset of an object's first payload word.
const HeaderSize = int(unsafe.Sizeof(Obj{}))

// Tag returns the object's type tag.
func (o *Obj) Tag() Tag { return o.tag }

// Gen returns the object's current generation.
func (o *Obj) Gen() uint16 { return o.gen }

// SCCID returns the object's cycle-equivalence class, 0 if unassigned.
func (o *Obj) SCCID() uint32 { return o.sccID }

// SetSCCID assigns the object's cycle-equivalence class.
func (o *Obj) SetSCCID(id uint32) { o.sccID = id }

// NumFields returns the number of payload words.
func (o *Obj) NumFields() int { return int(o.nfields) }

// Region returns the owning region's control block, or nil for the global
// heap.
func (o *Obj) Region() unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&o.region))
}

// SetRegion records the owning region's control block.
func (o *Obj) SetRegion(p unsafe.Pointer) {
	o.region = uintptr(p)
}

// Dead reports whether the object has been freed.
func (o *Obj) Dead() bool { return o.mark == markDead }

// Field returns the i'th payload word.
func (o *Obj) Field(i int) *Ref {
	debug.Assert(i >= 0 && i < int(o.nfields), "field %d out of %d", i, o.nfields)
	return xunsafe.ByteAdd[Ref](o, HeaderSize+i*layout.Size[Ref]())
}

// Load returns the i'th payload word's value.
func (o *Obj) Load(i int) Ref { return *o.Field(i) }

// Store sets the i'th payload word.
func (o *Obj) Store(i int, r Ref) { *o.Field(i) = r }

// Word reinterprets the i'th payload word as raw bits, for untraced
// payloads (floats, chars, string lengths).
func (o *Obj) Word(i int) *uintptr {
	return xunsafe.Cast[uintptr](o.Field(i))
}

// mark values. markDead objects are skipped by every traversal.
const (
	markClear = 0
	markLive  = 1
	markDead  = 0xff
)

// Heap is a set of objects allocated out of one arena, with enough
// bookkeeping for the collectors to enumerate them.
type Heap struct {
	arena *arena.Arena

	// objects indexes every allocation, for SCC sweeps and leak checks.
	// It lives on the Go heap; entries go stale (dead) rather than being
	// removed.
	objects []xunsafe.Addr[Obj]

	live   int
	nextID uint32 // scc id minting cursor
}

// New returns a heap allocating out of a.
func New(a *arena.Arena) *Heap {
	return &Heap{arena: a, nextID: 1}
}

// Arena returns the backing arena.
func (h *Heap) Arena() *arena.Arena { return h.arena }

// Live returns the number of objects allocated and not yet freed.
func (h *Heap) Live() int { return h.live }

// Alloc allocates an object with the given tag and payload word count.
func (h *Heap) Alloc(tag Tag, fields int) (*Obj, error) {
	p, err := h.arena.Alloc(HeaderSize + fields*layout.Size[Ref]())
	if err != nil {
		return nil, err
	}

	o := xunsafe.Cast[Obj](p)
	*o = Obj{tag: tag, nfields: uint32(fields)}
	for i := range fields {
		*o.Field(i) = NilRef
	}

	h.objects = append(h.objects, xunsafe.AddrOf(o))
	h.live++
	return o, nil
}

// MintSCCID mints a fresh cycle-equivalence class id.
func (h *Heap) MintSCCID() uint32 {
	id := h.nextID
	h.nextID++
	return id
}

// SeedSCCID restarts the minting cursor at base. Regions seed their heaps
// from disjoint ranges so class ids never collide across a splice.
func (h *Heap) SeedSCCID(base uint32) {
	h.nextID = max(base, 1)
}

// Release marks an object dead and bumps its generation so stale weak
// handles observe the death. The underlying bytes are recycled when the
// owning arena rewinds or resets.
func (h *Heap) Release(o *Obj) {
	if o == nil || o.Dead() {
		return
	}
	o.mark = markDead
	o.gen++
	h.live--
	debug.Log(nil, "release", "%v tag=%d", xunsafe.AddrOf(o), o.tag)
}

// Objects returns the allocation index, dead entries included.
func (h *Heap) Objects() []xunsafe.Addr[Obj] { return h.objects }

// Forget drops the allocation index and live count, for use after the
// backing arena has been reset or its chunks moved wholesale to another
// heap.
func (h *Heap) Forget() {
	h.objects = h.objects[:0]
	h.live = 0
}

// Adopt indexes an object whose storage was spliced into this heap's
// arena from another heap.
func (h *Heap) Adopt(addr xunsafe.Addr[Obj]) {
	h.objects = append(h.objects, addr)
	h.live++
}

// Truncate drops index entries past n after an abandoned bulk operation
// whose arena space has been rewound.
func (h *Heap) Truncate(n int) {
	for _, addr := range h.objects[n:] {
		if !addr.AssertValid().Dead() {
			h.live--
		}
	}
	h.objects = h.objects[:n]
}
