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
	"unsafe"

	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/heap"
	"github.com/loamlang/loam/internal/registry"
	"github.com/loamlang/loam/internal/xunsafe"
)

// Transmigrate deep-copies the graph reachable from root into dst,
// returning the copy of root. The source is unchanged.
//
// The copy is isomorphic: strong edges are duplicated by recursion, weak
// edges are re-resolved through the address mapping without recursion, so
// cycles closed by weak back edges are finite and preserved. Weak edges
// leaving the closure keep their original target.
//
// When the source region is sealed and contains exactly the transitive
// closure of root, the whole arena chain is spliced into dst instead of
// copied; the result is observationally identical.
//
// A copy abandoned mid-way (allocation failure) rewinds dst to its state
// before the call; transmigration is atomic at operation granularity.
func (m *Manager) Transmigrate(dst *Region, root *heap.Obj) (*heap.Obj, error) {
	if root == nil {
		return nil, nil
	}

	src := Owner(root)
	if src == dst {
		return root, nil
	}

	// Splicing moves the source's chunks wholesale, so it is only legal
	// once the source is sealed against further allocation.
	if src != nil && src.Frozen() && m.closureCovers(src, root) {
		return m.splice(src, dst, root), nil
	}

	return m.deepCopy(dst, root)
}

// deepCopy clones the closure of root into dst.
func (m *Manager) deepCopy(dst *Region, root *heap.Obj) (*heap.Obj, error) {
	mark := dst.Arena().Snapshot()
	baseline := len(dst.Heap().Objects())

	seen := newSeenTable()
	var weakFixups []fixup

	copied, err := m.copyRec(dst, root, seen, &weakFixups)
	if err != nil {
		// Abandon the partial copy: rewind the destination arena and drop
		// the index entries the copy added.
		dst.Arena().Rewind(mark)
		dst.Heap().Truncate(baseline)
		return nil, err
	}

	// Weak edges resolve through the mapping after every node is placed;
	// targets outside the closure stay as they were.
	for _, f := range weakFixups {
		if twin := seen.get(uintptr(f.target)); twin != 0 {
			f.obj.Store(f.field, heap.Ref(twin))
		}
	}

	debug.Log(nil, "transmigrate", "%d nodes -> region %d", seen.len, dst.id)
	return copied, nil
}

type fixup struct {
	obj    *heap.Obj
	field  int
	target heap.Ref
}

// copyRec is the DFS step: allocate a twin, record the mapping, then
// recurse on strong children. The registry's strong-acyclicity contract
// bounds the recursion.
func (m *Manager) copyRec(dst *Region, o *heap.Obj, seen *seenTable, fixups *[]fixup) (*heap.Obj, error) {
	if twin := seen.get(uintptr(xunsafe.AddrOf(o))); twin != 0 {
		return xunsafe.Addr[heap.Obj](twin).AssertValid(), nil
	}

	twin, err := dst.Alloc(o.Tag(), o.NumFields())
	if err != nil {
		return nil, err
	}
	twin.SetSCCID(o.SCCID())
	seen.put(uintptr(xunsafe.AddrOf(o)), uintptr(xunsafe.AddrOf(twin)))

	for i := range o.NumFields() {
		val := o.Load(i)

		switch m.table.Strength(o, i) {
		case registry.Strong:
			child := val.Obj()
			if child == nil || child.Dead() {
				twin.Store(i, val)
				continue
			}
			c, err := m.copyRec(dst, child, seen, fixups)
			if err != nil {
				return nil, err
			}
			twin.Store(i, heap.FromObj(c))

		case registry.Weak:
			twin.Store(i, val)
			if val.IsObj() {
				*fixups = append(*fixups, fixup{obj: twin, field: i, target: val})
			}

		default:
			// Raw payload word.
			*twin.Word(i) = *o.Word(i)
		}
	}

	return twin, nil
}

// closureCovers reports whether every live object of src is reachable from
// root, i.e. src is exactly root's transitive closure.
func (m *Manager) closureCovers(src *Region, root *heap.Obj) bool {
	live := src.Heap().Live()
	if live == 0 {
		return false
	}

	reached := make(map[xunsafe.Addr[heap.Obj]]struct{}, live)
	var walk func(o *heap.Obj)
	walk = func(o *heap.Obj) {
		addr := xunsafe.AddrOf(o)
		if _, ok := reached[addr]; ok {
			return
		}
		if Owner(o) != src {
			return
		}
		reached[addr] = struct{}{}
		for i := range o.NumFields() {
			if m.table.Strength(o, i) == registry.Untraced {
				continue
			}
			if child := o.Load(i).Obj(); child != nil && !child.Dead() {
				walk(child)
			}
		}
	}
	walk(root)

	return len(reached) == live
}

// splice moves src's entire arena chain into dst without copying any
// object. Object headers are repointed at dst and the heap indexes merged,
// one pass over src's objects; src is left empty and sealed.
func (m *Manager) splice(src, dst *Region, root *heap.Obj) *heap.Obj {
	begin, end := src.Arena().Begin(), src.Arena().End()
	if begin != nil {
		for end.Next() != nil {
			end = end.Next()
		}
		if err := src.Arena().Detach(begin, end); err != nil {
			debug.Assert(false, "detach of own chain failed: %v", err)
		}
		dst.Arena().Attach(begin, end)
	}

	for _, addr := range src.Heap().Objects() {
		o := addr.AssertValid()
		if o.Dead() {
			continue
		}
		o.SetRegion(unsafe.Pointer(dst))
		dst.Heap().Adopt(addr)
	}
	src.Heap().Forget()
	src.frozen.Store(true)

	debug.Log(nil, "transmigrate", "spliced region %d -> region %d", src.id, dst.id)
	return root
}
