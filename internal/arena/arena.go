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

// Package arena provides a low-level, relatively unsafe arena allocation
// abstraction built on reserved virtual address space.
//
// # Design
//
// An [Arena] is a singly-linked chain of chunks. Each chunk owns a
// reservation of virtual address space ([vmem.Span]); only a prefix of the
// reservation is committed to physical memory, and only a prefix of that is
// in use (the bump offset). Allocation is a pointer bump on the fast path;
// crossing the committed boundary commits more pages; exhausting the
// reservation appends a fresh chunk at the tail.
//
// Because chunks never move and [Arena.Reset] returns pages without
// unmapping, pointers handed out by an arena are stable for the lifetime of
// the reservation. The memory is invisible to Go's garbage collector: it
// must never hold Go pointers, only data and [xunsafe.Addr]-style words that
// point back into arena memory.
package arena

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/xyproto/env/v2"

	"github.com/loamlang/loam/internal/arena/vmem"
	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/xunsafe"
	"github.com/loamlang/loam/internal/xunsafe/layout"
)

// Align is the alignment of all objects on the arena.
const Align = int(unsafe.Sizeof(uintptr(0)))

var (
	// DefaultReserve is the address space reservation for an ordinary chunk.
	DefaultReserve = env.Int("LOAM_RESERVE", 2<<20)

	// InitialCommit is how much of a fresh chunk is committed up front.
	InitialCommit = env.Int("LOAM_INITIAL_COMMIT", 64<<10)

	// CommitAhead is how far past the requested boundary a commit extends,
	// to amortize trips into the OS.
	CommitAhead = env.Int("LOAM_COMMIT_AHEAD", 256<<10)

	// HugePageThreshold is the reservation size at or above which a chunk is
	// hinted for transparent huge pages.
	HugePageThreshold = env.Int("LOAM_HUGEPAGE_THRESHOLD", 2<<20)
)

// ErrAllocFailure is returned when the OS refuses to reserve or commit
// memory, or when a chunk fails validation.
var ErrAllocFailure = errors.New("loam: allocation failure")

// Chunk is a node in an arena's chain.
//
// Invariants: offset <= committed <= reserved; base is page-aligned.
type Chunk struct {
	next *Chunk
	span vmem.Span

	base      xunsafe.Addr[byte]
	reserved  int
	committed int
	offset    int

	// Set for chunks whose reservation was sized to a single oversized
	// allocation; these are exempt from the corruption guard.
	oversized bool
}

// Next returns the chunk after c, or nil at the tail.
func (c *Chunk) Next() *Chunk { return c.next }

// Base returns the address of the chunk's usable memory.
func (c *Chunk) Base() xunsafe.Addr[byte] { return c.base }

// Len returns the number of bytes bump-allocated out of c.
func (c *Chunk) Len() int { return c.offset }

// Contains reports whether addr lies within c's allocated prefix.
func (c *Chunk) Contains(addr xunsafe.Addr[byte]) bool {
	return addr >= c.base && addr < c.base.ByteAdd(c.offset)
}

// Arena is a chain of chunks supporting bump allocation, snapshot/rewind,
// bulk reset, and O(1) splice of whole chains.
//
// A zero Arena is empty and ready to use.
type Arena struct {
	_ xunsafe.NoCopy

	begin, end *Chunk
}

// Mark is a point in an arena's allocation history, captured by
// [Arena.Snapshot] and restored by [Arena.Rewind].
type Mark struct {
	chunk  *Chunk
	offset int
}

// Alloc allocates size bytes, aligned to [Align].
//
// The returned memory is committed. Fresh pages are zero; memory handed out
// again after a rewind is not re-zeroed here, so callers that need zeroed
// memory clear it themselves.
func (a *Arena) Alloc(size int) (*byte, error) {
	size = layout.RoundUp(size, Align)

	if c := a.end; c != nil {
		// Fast path: room in the committed prefix.
		if c.offset+size <= c.committed {
			p := c.base.ByteAdd(c.offset).AssertValid()
			c.offset += size
			a.log("alloc", "%v+%d", xunsafe.AddrOf(p), size)
			return p, nil
		}

		// Medium path: room in the reservation; commit more pages.
		if c.offset+size <= c.reserved {
			if err := c.commitTo(c.offset + size); err != nil {
				return nil, err
			}
			p := c.base.ByteAdd(c.offset).AssertValid()
			c.offset += size
			a.log("alloc", "%v+%d (commit %d)", xunsafe.AddrOf(p), size, c.committed)
			return p, nil
		}
	}

	// Slow path: any chunk in the chain with room (rewound or reset chunks
	// keep their reservations), else a fresh chunk at the tail.
	for c := a.begin; c != nil; c = c.next {
		if c.offset+size > c.reserved {
			continue
		}
		if c.offset+size > c.committed {
			if err := c.commitTo(c.offset + size); err != nil {
				continue
			}
		}
		p := c.base.ByteAdd(c.offset).AssertValid()
		c.offset += size
		a.end = c
		a.log("alloc", "%v+%d (reused chunk)", xunsafe.AddrOf(p), size)
		return p, nil
	}

	c, err := newChunk(size)
	if err != nil {
		return nil, err
	}
	a.link(c)

	p := c.base.AssertValid()
	c.offset = size
	a.log("alloc", "%v+%d (new chunk %d)", xunsafe.AddrOf(p), size, c.reserved)
	return p, nil
}

// Snapshot captures the current allocation point.
func (a *Arena) Snapshot() Mark {
	if a.end == nil {
		return Mark{}
	}
	return Mark{chunk: a.end, offset: a.end.offset}
}

// Rewind restores the allocation point captured by mark, releasing
// everything allocated since. No physical memory is returned to the OS.
//
// A zero Mark rewinds to the arena's beginning.
func (a *Arena) Rewind(mark Mark) {
	if mark.chunk == nil {
		for c := a.begin; c != nil; c = c.next {
			c.offset = 0
		}
		a.end = a.begin
		return
	}

	mark.chunk.offset = mark.offset
	for c := mark.chunk.next; c != nil; c = c.next {
		c.offset = 0
	}
	a.end = mark.chunk
	a.log("rewind", "%v+%d", mark.chunk.base, mark.offset)
}

// Reset empties the arena and returns its physical pages to the OS, keeping
// every reservation so chunk addresses remain stable.
func (a *Arena) Reset() {
	for c := a.begin; c != nil; c = c.next {
		_ = vmem.Decommit(c.span)
		c.offset = 0
		if !vmem.CommitSurvivesDecommit() {
			c.committed = 0
		}
	}
	a.end = a.begin
	a.log("reset", "")
}

// Free unmaps every chunk. The arena is empty and reusable afterward.
func (a *Arena) Free() {
	for c := a.begin; c != nil; {
		next := c.next
		_ = vmem.Release(c.span)
		c.next, c.span = nil, nil
		c = next
	}
	a.begin, a.end = nil, nil
}

// Detach splices the sublist [start, last] out of a's chain. The chunks
// keep their contents; they belong to no arena until attached.
func (a *Arena) Detach(start, last *Chunk) error {
	if start == nil || last == nil {
		return fmt.Errorf("loam/arena: detach of nil chunk")
	}

	if a.begin == start {
		a.begin = last.next
	} else {
		prev := a.begin
		for prev != nil && prev.next != start {
			prev = prev.next
		}
		if prev == nil {
			return fmt.Errorf("loam/arena: detach of foreign chunk %v", start.base)
		}
		prev.next = last.next
	}

	// The tail (or the chunk a.end pointed at) may have left with the
	// sublist; re-find it.
	a.end = a.begin
	for c := a.begin; c != nil; c = c.next {
		a.end = c
	}

	last.next = nil
	return nil
}

// Attach links the detached sublist [start, last] at a's tail.
func (a *Arena) Attach(start, last *Chunk) {
	last.next = nil
	a.link2(start, last)
}

// Begin returns the first chunk of the chain, or nil if the arena is empty.
func (a *Arena) Begin() *Chunk { return a.begin }

// End returns the chunk allocation currently targets.
func (a *Arena) End() *Chunk { return a.end }

// Contains reports whether addr was allocated out of this arena.
func (a *Arena) Contains(addr xunsafe.Addr[byte]) bool {
	for c := a.begin; c != nil; c = c.next {
		if c.Contains(addr) {
			return true
		}
	}
	return false
}

// Used returns the total number of bytes bump-allocated across the chain.
func (a *Arena) Used() int {
	var n int
	for c := a.begin; c != nil; c = c.next {
		n += c.offset
	}
	return n
}

func (a *Arena) link(c *Chunk) {
	a.link2(c, c)
}

func (a *Arena) link2(start, last *Chunk) {
	if a.begin == nil {
		a.begin, a.end = start, last
		return
	}
	// Allocation always targets the tail; walk from end, which is the tail
	// or close to it after a rewind.
	tail := a.end
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = start
	a.end = last
}

// commitTo extends c's committed prefix to cover at least upTo bytes,
// with lookahead to amortize syscalls.
func (c *Chunk) commitTo(upTo int) error {
	if !c.oversized && c.reserved > 4*DefaultReserve {
		return fmt.Errorf("%w: corrupted chunk (reserved %d)", ErrAllocFailure, c.reserved)
	}

	target := min(vmem.CeilPage(upTo+CommitAhead), c.reserved)
	if target < upTo {
		return fmt.Errorf("%w: commit past reservation (%d > %d)", ErrAllocFailure, upTo, c.reserved)
	}
	if err := vmem.Commit(c.span, target); err != nil {
		return fmt.Errorf("%w: %v", ErrAllocFailure, err)
	}
	c.committed = target
	return nil
}

func newChunk(size int) (*Chunk, error) {
	reserve := DefaultReserve
	oversized := size > reserve
	if oversized {
		reserve = vmem.CeilPage(size)
	}

	span, err := vmem.Reserve(reserve)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocFailure, err)
	}
	if reserve >= HugePageThreshold {
		vmem.HintHugePages(span)
	}

	c := &Chunk{
		span:      span,
		base:      xunsafe.AddrOf(&span[0]),
		reserved:  reserve,
		oversized: oversized,
	}
	if err := vmem.Commit(span, min(vmem.CeilPage(max(InitialCommit, size)), reserve)); err != nil {
		_ = vmem.Release(span)
		return nil, fmt.Errorf("%w: %v", ErrAllocFailure, err)
	}
	c.committed = min(vmem.CeilPage(max(InitialCommit, size)), reserve)
	return c, nil
}

func (a *Arena) log(op, format string, args ...any) {
	debug.Log([]any{"%p", a}, op, format, args...)
}
