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

// Package registry holds the process-wide table of user-defined object
// types and the ownership graph derived from their fields.
//
// The registry is built once at startup and sealed before the first
// allocation. Sealing runs back-edge analysis: a field edge that closes a
// cycle in the ownership graph is demoted to a weak edge, except a type's
// first direct self-edge (its recursive spine), which stays strong. The
// subgraph of strong edges is therefore acyclic apart from those spine
// self-loops, which are nil-terminated at run time. Collectors and the
// transmigrator rely on that to bound traversal.
package registry

import (
	"fmt"
	"iter"
	"sync"

	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/scc"
)

// Strength classifies how a field relates to the object it refers to.
type Strength uint8

const (
	// Untraced fields hold raw payload; collectors skip them.
	Untraced Strength = iota
	// Strong fields keep their target alive.
	Strong
	// Weak fields record a relation without keeping the target alive.
	// Back-edge analysis demotes cycle-closing fields to Weak.
	Weak
)

// String implements [fmt.Stringer].
func (s Strength) String() string {
	switch s {
	case Untraced:
		return "untraced"
	case Strong:
		return "strong"
	case Weak:
		return "weak"
	default:
		return fmt.Sprintf("Strength(%d)", int(s))
	}
}

// Field is one field of a registered type.
type Field struct {
	Name      string
	TypeName  string
	Scannable bool
	Strength  Strength
}

// Type is a registered object type.
type Type struct {
	Name      string
	Fields    []Field
	Recursive bool

	// Tag is the type's index in registration order; the runtime's per-tag
	// function tables are indexed by it.
	Tag int

	// CycleProne is set at seal time for types whose ownership-graph
	// component contains a cycle (counting weak edges).
	CycleProne bool
}

// Edge is one edge of the ownership graph, emitted per scannable field.
type Edge struct {
	From, FieldName, To string
	BackEdge            bool
}

// Registry maps type names to definitions.
//
// Registration happens at process startup; Seal freezes the registry and
// runs the ownership-graph analysis. A sealed registry is safe for
// concurrent readers.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*Type
	order  []string
	edges  []Edge
	sealed bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds a type definition.
//
// Each field's strength is initialized to Strong if the field is scannable
// and Untraced otherwise; weak demotion happens at seal time. The type is
// marked recursive when any field refers back to it by name.
func (r *Registry) Register(name string, fields []Field) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, fmt.Errorf("loam/registry: register %q after seal", name)
	}
	if _, ok := r.types[name]; ok {
		return nil, fmt.Errorf("loam/registry: duplicate type %q", name)
	}

	t := &Type{
		Name:   name,
		Fields: make([]Field, len(fields)),
		Tag:    len(r.order),
	}
	for i, f := range fields {
		if f.Scannable {
			f.Strength = Strong
		} else {
			f.Strength = Untraced
		}
		if f.TypeName == name {
			t.Recursive = true
		}
		t.Fields[i] = f
	}

	r.types[name] = t
	r.order = append(r.order, name)
	return t, nil
}

// Lookup returns the definition for name, or nil.
func (r *Registry) Lookup(name string) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Types ranges over the registered types in registration order.
func (r *Registry) Types() iter.Seq[*Type] {
	return func(yield func(*Type) bool) {
		r.mu.RLock()
		order := r.order
		r.mu.RUnlock()
		for _, name := range order {
			if !yield(r.Lookup(name)) {
				return
			}
		}
	}
}

// Edges returns the ownership graph, one edge per scannable field. Valid
// after Seal.
func (r *Registry) Edges() []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.edges
}

// Sealed reports whether Seal has run.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Seal freezes the registry, builds the ownership graph, and runs back-edge
// analysis. It is idempotent.
//
// After Seal, the subgraph induced by Strong edges is acyclic apart from
// each type's single spine self-edge.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return
	}
	r.sealed = true

	r.buildOwnershipGraph()
	r.analyzeBackEdges()
	r.markCycleProne()

	if debug.Enabled {
		r.checkStrongAcyclic()
	}
}

// buildOwnershipGraph emits one edge per scannable field whose target type
// is registered.
func (r *Registry) buildOwnershipGraph() {
	for _, name := range r.order {
		t := r.types[name]
		for _, f := range t.Fields {
			if !f.Scannable {
				continue
			}
			if _, ok := r.types[f.TypeName]; !ok {
				continue
			}
			r.edges = append(r.edges, Edge{From: name, FieldName: f.Name, To: f.TypeName})
		}
	}
}

// analyzeBackEdges runs DFS colouring over the ownership graph. Entering a
// node marks it grey; an edge to a grey node is a back edge, and its field
// is demoted to Weak. Black nodes are skipped, so each node is visited
// once. DFS roots are taken in registration order, so which field of a
// cycle through several types is demoted depends on that order.
//
// One exception: the first direct self-edge of a type is its recursive
// spine (a list's next, a tree's children), terminated by nil at run time
// rather than by the type graph. It stays strong; every later edge that
// closes a cycle is demoted.
func (r *Registry) analyzeBackEdges() {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(r.types))

	var visit func(name string)
	visit = func(name string) {
		colour[name] = grey
		t := r.types[name]
		spine := false
		for i := range t.Fields {
			f := &t.Fields[i]
			if f.Strength != Strong {
				continue
			}
			target, ok := r.types[f.TypeName]
			if !ok {
				continue
			}

			switch colour[target.Name] {
			case grey:
				if target.Name == name && !spine {
					spine = true
					continue
				}
				r.markFieldWeak(t, f)
			case white:
				visit(target.Name)
			}
		}
		colour[name] = black
	}

	for _, name := range r.order {
		if colour[name] == white {
			visit(name)
		}
	}
}

// markFieldWeak demotes a field and its graph edge.
func (r *Registry) markFieldWeak(t *Type, f *Field) {
	f.Strength = Weak
	for i := range r.edges {
		e := &r.edges[i]
		if e.From == t.Name && e.FieldName == f.Name {
			e.BackEdge = true
		}
	}
	debug.Log(nil, "back-edge", "%s.%s -> %s", t.Name, f.Name, f.TypeName)
}

// markCycleProne computes, per type, whether its ownership-graph component
// contains a cycle counting all scannable edges (weak included). Shape
// analysis consults this to route such types away from direct frees.
func (r *Registry) markCycleProne() {
	graph := func(name string) iter.Seq[string] {
		return func(yield func(string) bool) {
			t := r.types[name]
			for _, f := range t.Fields {
				if !f.Scannable {
					continue
				}
				if _, ok := r.types[f.TypeName]; !ok {
					continue
				}
				if !yield(f.TypeName) {
					return
				}
			}
		}
	}

	roots := func(yield func(string) bool) {
		for _, name := range r.order {
			if !yield(name) {
				return
			}
		}
	}

	dag := scc.Sort(roots, graph)
	for _, name := range r.order {
		if c := dag.ForNode(name); c != nil && c.Cyclic() {
			r.types[name].CycleProne = true
		}
	}
}

// checkStrongAcyclic asserts the post-seal contract in debug builds.
func (r *Registry) checkStrongAcyclic() {
	graph := func(name string) iter.Seq[string] {
		return func(yield func(string) bool) {
			t := r.types[name]
			for _, f := range t.Fields {
				if f.Strength != Strong {
					continue
				}
				if _, ok := r.types[f.TypeName]; !ok {
					continue
				}
				if !yield(f.TypeName) {
					return
				}
			}
		}
	}

	roots := func(yield func(string) bool) {
		for _, name := range r.order {
			if !yield(name) {
				return
			}
		}
	}

	for c := range scc.Sort(roots, graph).Topological() {
		if !c.Cyclic() {
			continue
		}
		// The only cycles allowed among strong edges are singleton spines.
		members := c.Members()
		debug.Assert(len(members) == 1, "strong edges form a cycle: %v", members)

		t := r.types[members[0]]
		strongSelf := 0
		for _, f := range t.Fields {
			if f.Strength == Strong && f.TypeName == t.Name {
				strongSelf++
			}
		}
		debug.Assert(strongSelf <= 1, "multiple strong self-edges on %s", t.Name)
	}
}
