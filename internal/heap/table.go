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

// FieldInfo is the runtime view of one payload word of a tag.
type FieldInfo struct {
	Name     string
	Strength registry.Strength
}

// TagInfo is the runtime view of one tag: which payload words are strong
// edges, which are weak, which are raw.
type TagInfo struct {
	Name   string
	Fields []FieldInfo
}

// Table is the closed per-tag dispatch table, built once from the sealed
// type registry. Collectors and the transmigrator index it by tag instead
// of dispatching on type names.
type Table struct {
	builtin [TagUser]TagInfo
	user    []TagInfo
}

// BuildTable constructs the dispatch table for the built-in tags plus
// every type registered in reg. reg may be nil.
func BuildTable(reg *registry.Registry) *Table {
	t := &Table{}

	strong := func(names ...string) []FieldInfo {
		fs := make([]FieldInfo, len(names))
		for i, n := range names {
			fs[i] = FieldInfo{Name: n, Strength: registry.Strong}
		}
		return fs
	}
	raw := func(names ...string) []FieldInfo {
		fs := make([]FieldInfo, len(names))
		for i, n := range names {
			fs[i] = FieldInfo{Name: n, Strength: registry.Untraced}
		}
		return fs
	}

	t.builtin[TagAtom] = TagInfo{Name: "atom", Fields: raw("val")}
	t.builtin[TagPair] = TagInfo{Name: "pair", Fields: strong("car", "cdr")}
	t.builtin[TagString] = TagInfo{Name: "string", Fields: raw("len", "data")}
	t.builtin[TagChar] = TagInfo{Name: "char", Fields: raw("val")}
	t.builtin[TagFloat] = TagInfo{Name: "float", Fields: raw("val")}
	t.builtin[TagVector] = TagInfo{Name: "vector"} // variable; all strong
	t.builtin[TagDict] = TagInfo{Name: "dict"}     // variable; all strong
	t.builtin[TagSymbol] = TagInfo{Name: "symbol", Fields: raw("name")}
	t.builtin[TagClosure] = TagInfo{Name: "closure", Fields: append(raw("code"), strong("env")...)}
	t.builtin[TagPort] = TagInfo{Name: "port", Fields: raw("fd")}
	t.builtin[TagForeignLib] = TagInfo{Name: "foreign-lib", Fields: raw("handle")}
	t.builtin[TagForeignPtr] = TagInfo{Name: "foreign-ptr", Fields: raw("ptr")}
	t.builtin[TagThread] = TagInfo{Name: "thread", Fields: raw("id")}
	t.builtin[TagChannel] = TagInfo{Name: "channel", Fields: raw("id")}
	t.builtin[TagProcess] = TagInfo{Name: "process", Fields: raw("pid")}
	t.builtin[TagContinuation] = TagInfo{Name: "continuation", Fields: strong("frames")}
	t.builtin[TagBox] = TagInfo{Name: "box", Fields: strong("val")}
	t.builtin[TagBounce] = TagInfo{Name: "bounce", Fields: strong("thunk")}
	t.builtin[TagSyntax] = TagInfo{Name: "syntax", Fields: strong("datum")}
	t.builtin[TagEffect] = TagInfo{Name: "effect", Fields: strong("payload")}
	t.builtin[TagError] = TagInfo{Name: "error", Fields: strong("payload")}

	if reg != nil {
		reg.Seal()
		for typ := range reg.Types() {
			info := TagInfo{Name: typ.Name, Fields: make([]FieldInfo, len(typ.Fields))}
			for i, f := range typ.Fields {
				info.Fields[i] = FieldInfo{Name: f.Name, Strength: f.Strength}
			}
			t.user = append(t.user, info)
		}
	}

	return t
}

// UserTag returns the tag for the i'th registered user type.
func UserTag(i int) Tag { return TagUser + Tag(i) }

// Info returns the metadata for a tag.
func (t *Table) Info(tag Tag) *TagInfo {
	if tag < TagUser {
		return &t.builtin[tag]
	}
	i := int(tag - TagUser)
	if i < len(t.user) {
		return &t.user[i]
	}
	return nil
}

// Strength returns the strength of the i'th payload word of an object.
// Tags with variable field counts (vectors, dicts) treat every word as
// strong.
func (t *Table) Strength(o *Obj, i int) registry.Strength {
	info := t.Info(o.tag)
	if info == nil {
		return registry.Untraced
	}
	if len(info.Fields) == 0 {
		// Variable-length tag.
		return registry.Strong
	}
	if i >= len(info.Fields) {
		return registry.Untraced
	}
	return info.Fields[i].Strength
}

// StrongChildren calls fn for every live object a strong field of o refers
// to.
func (t *Table) StrongChildren(o *Obj, fn func(*Obj)) {
	for i := range o.NumFields() {
		if t.Strength(o, i) != registry.Strong {
			continue
		}
		child := o.Load(i).Obj()
		if child != nil && !child.Dead() {
			fn(child)
		}
	}
}
