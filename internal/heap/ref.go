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
	"github.com/loamlang/loam/internal/xunsafe"
)

// Ref is a tagged reference word: either the address of an [Obj], or a
// small integer with the bottom bit set (a fixnum), or nil (zero).
//
// Fixnums avoid allocation entirely; every payload word of every object is
// a Ref unless its tag declares it untraced.
type Ref uintptr

// NilRef is the nil reference.
const NilRef Ref = 0

// FromObj returns a reference to o.
func FromObj(o *Obj) Ref {
	return Ref(xunsafe.AddrOf(o))
}

// FromInt packs a small integer into an unboxed reference.
func FromInt(v int) Ref {
	return Ref(v)<<1 | 1
}

// IsNil reports whether r is nil.
func (r Ref) IsNil() bool { return r == 0 }

// IsInt reports whether r is an unboxed fixnum.
func (r Ref) IsInt() bool { return r&1 != 0 }

// IsObj reports whether r refers to an object.
func (r Ref) IsObj() bool { return r != 0 && r&1 == 0 }

// Int unpacks a fixnum. The result is unspecified if r is not a fixnum.
func (r Ref) Int() int {
	return int(intRef(r) >> 1)
}

// Obj returns the referenced object, or nil for fixnums and nil refs.
func (r Ref) Obj() *Obj {
	if !r.IsObj() {
		return nil
	}
	return xunsafe.Addr[Obj](r).AssertValid()
}

// Addr returns the referenced object's address.
func (r Ref) Addr() xunsafe.Addr[Obj] {
	return xunsafe.Addr[Obj](r)
}

// intRef is a signed view of a Ref, so fixnum unpacking is an arithmetic
// shift.
type intRef int

// Weak is an object handle that does not keep its target alive: the
// target's generation is snapshotted at creation and checked on every
// dereference.
type Weak struct {
	addr xunsafe.Addr[Obj]
	gen  uint16
}

// WeakTo returns a weak handle to o.
func WeakTo(o *Obj) Weak {
	return Weak{addr: xunsafe.AddrOf(o), gen: o.gen}
}

// Deref returns the target, or nil if it has been freed since the handle
// was created.
func (w Weak) Deref() *Obj {
	if w.addr == 0 {
		return nil
	}
	o := w.addr.AssertValid()
	if o.gen != w.gen || o.Dead() {
		return nil
	}
	return o
}
