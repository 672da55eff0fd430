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
	"github.com/loamlang/loam/internal/region"
)

// Cons allocates a pair in r.
func (c *Core) Cons(r *Region, car, cdr Ref) (*Obj, error) {
	o, err := c.AllocIn(r, TagPair, 2)
	if err != nil {
		return nil, err
	}
	o.Store(0, car)
	o.Store(1, cdr)
	return o, nil
}

// List allocates a nil-terminated cons chain of the given elements in r.
func (c *Core) List(r *Region, elems ...Ref) (*Obj, error) {
	var tail Ref
	var head *Obj
	for i := len(elems) - 1; i >= 0; i-- {
		o, err := c.Cons(r, elems[i], tail)
		if err != nil {
			return nil, err
		}
		head = o
		tail = FromObj(o)
	}
	return head, nil
}

// Box allocates a mutable cell in r.
func (c *Core) Box(r *Region, val Ref) (*Obj, error) {
	o, err := c.AllocIn(r, TagBox, 1)
	if err != nil {
		return nil, err
	}
	o.Store(0, val)
	return o, nil
}

// Car returns a pair's first field.
func Car(o *Obj) Ref { return o.Load(0) }

// Cdr returns a pair's second field.
func Cdr(o *Obj) Ref { return o.Load(1) }

// Length walks a cons chain's spine.
func Length(o *Obj) int {
	n := 0
	for o != nil && o.Tag() == TagPair {
		n++
		o = Cdr(o).Obj()
	}
	return n
}

// WriteStrong stores an owning reference into o's i'th field, enforcing
// the cross-region and back-edge rules.
func (c *Core) WriteStrong(o *Obj, i int, val Ref) error {
	c.seal()
	return c.mgr.Write(o, i, region.StrongRef(val))
}

// WriteWeak stores a relation-only reference into o's i'th field.
func (c *Core) WriteWeak(o *Obj, i int, val Ref) error {
	c.seal()
	return c.mgr.Write(o, i, region.WeakRef(val))
}
