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
	"github.com/loamlang/loam/internal/registry"
)

// Freer binds a heap to its dispatch table and implements the per-shape
// free functions the injector's free operations lower to.
type Freer struct {
	H *Heap
	T *Table
}

// FreeAtom releases a leaf object.
func (f Freer) FreeAtom(o *Obj) {
	f.H.Release(o)
}

// FreePair releases a pair and, recursively, everything its strong fields
// own. Termination is guaranteed by the registry's strong-acyclicity
// contract.
func (f Freer) FreePair(o *Obj) {
	if o == nil || o.Dead() {
		return
	}
	f.T.StrongChildren(o, func(child *Obj) { f.FreePair(child) })
	f.H.Release(o)
}

// FreeList releases a nil-terminated cons chain iteratively, recursing
// only into the cars.
func (f Freer) FreeList(o *Obj) {
	for o != nil && !o.Dead() {
		var next *Obj
		if o.Tag() == TagPair {
			if car := o.Load(0).Obj(); car != nil {
				f.FreePair(car)
			}
			next = o.Load(1).Obj()
		}
		f.H.Release(o)
		o = next
	}
}

// IncRef retains an object for the reference-counting path.
func (f Freer) IncRef(o *Obj) {
	if o == nil || o.Dead() {
		return
	}
	o.rc++
}

// DecRef releases one reference; at zero the object is freed and its
// strong and weak-exempt children are decremented in turn.
func (f Freer) DecRef(o *Obj) {
	if o == nil || o.Dead() {
		return
	}
	if o.rc > 0 {
		o.rc--
	}
	if o.rc > 0 {
		return
	}

	// Weak fields are relations only; decrementing through them would
	// double-count.
	for i := range o.NumFields() {
		if f.T.Strength(o, i) != registry.Strong {
			continue
		}
		if child := o.Load(i).Obj(); child != nil {
			f.DecRef(child)
		}
	}
	f.H.Release(o)
}

// RC returns an object's current reference count.
func (o *Obj) RC() uint32 { return o.rc }

// SetRC initializes an object's reference count.
func (o *Obj) SetRC(n uint32) { o.rc = n }
