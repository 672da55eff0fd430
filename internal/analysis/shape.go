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

package analysis

import (
	"strings"

	"github.com/loamlang/loam/internal/ir"
	"github.com/loamlang/loam/internal/registry"
)

// Shape is the structural classification of a binding, used to pick a free
// strategy.
type Shape uint8

const (
	ShapeUnknown Shape = iota
	ShapeAtom
	ShapePair
	ShapeList
	ShapeTree
	ShapeGraph
	ShapeCyclePossible
)

// String implements [fmt.Stringer].
func (s Shape) String() string {
	switch s {
	case ShapeUnknown:
		return "unknown"
	case ShapeAtom:
		return "atom"
	case ShapePair:
		return "pair"
	case ShapeList:
		return "list"
	case ShapeTree:
		return "tree"
	case ShapeGraph:
		return "graph"
	case ShapeCyclePossible:
		return "cycle-possible"
	default:
		return "invalid"
	}
}

// Strategy is a reclamation strategy chosen per shape.
type Strategy uint8

const (
	// StrategyDirect frees at the injected point with a per-shape free
	// function.
	StrategyDirect Strategy = iota
	// StrategySCC hands the object to the cycle collector with a
	// single-object root.
	StrategySCC
	// StrategyDeferred queues the object for batched reference-count
	// decrements.
	StrategyDeferred
)

// FreeStrategy maps a shape to its strategy. Unknown is conservatively a
// graph.
func FreeStrategy(s Shape) Strategy {
	switch s {
	case ShapeAtom, ShapePair, ShapeList:
		return StrategyDirect
	case ShapeTree:
		return StrategySCC
	default:
		return StrategyDeferred
	}
}

// FreeFunc returns the name of the free function the injector emits for a
// shape.
func FreeFunc(s Shape) string {
	switch s {
	case ShapeAtom:
		return "free-atom"
	case ShapePair:
		return "free-pair"
	case ShapeList:
		return "free-list"
	case ShapeTree:
		return "free-tree-scc"
	default:
		return "free-graph-deferred"
	}
}

// Shapes infers shapes for bindings. Inference consults the sealed type
// registry for constructor calls and previously inferred bindings for
// variable references.
type Shapes struct {
	reg    *registry.Registry
	shapes map[string]Shape
}

// NewShapes returns a shape analysis backed by reg, which may be nil when
// no user types exist.
func NewShapes(reg *registry.Registry) *Shapes {
	return &Shapes{reg: reg, shapes: make(map[string]Shape)}
}

// Assign records the inferred shape of a binding's value.
func (s *Shapes) Assign(name string, value *ir.Node) Shape {
	shape := s.Infer(value)
	s.shapes[name] = shape
	return shape
}

// Lookup returns a binding's inferred shape.
func (s *Shapes) Lookup(name string) Shape {
	if shape, ok := s.shapes[name]; ok {
		return shape
	}
	return ShapeUnknown
}

// Infer classifies the value an expression evaluates to.
func (s *Shapes) Infer(expr *ir.Node) Shape {
	if expr == nil {
		return ShapeUnknown
	}

	switch expr.Kind {
	case ir.KindNil, ir.KindInt, ir.KindFloat, ir.KindStr, ir.KindLambda:
		return ShapeAtom

	case ir.KindSym:
		return s.Lookup(expr.Str)

	case ir.KindIf:
		if len(expr.Kids) != 3 {
			return ShapeUnknown
		}
		return join(s.Infer(expr.Kids[1]), s.Infer(expr.Kids[2]))

	case ir.KindBegin:
		if len(expr.Kids) == 0 {
			return ShapeAtom
		}
		return s.Infer(expr.Kids[len(expr.Kids)-1])

	case ir.KindLet:
		for _, b := range expr.Bindings {
			s.Assign(b.Name, b.Value)
		}
		return s.Infer(expr.Body)

	case ir.KindCall:
		return s.inferCall(expr)

	default:
		return ShapeUnknown
	}
}

func (s *Shapes) inferCall(expr *ir.Node) Shape {
	switch expr.Str {
	case "cons":
		if len(expr.Kids) != 2 {
			return ShapePair
		}
		// A cons chain ending in nil (or another list) is a list; anything
		// else is a bare pair.
		switch s.Infer(expr.Kids[1]) {
		case ShapeList:
			return ShapeList
		default:
			if expr.Kids[1].Kind == ir.KindNil {
				return ShapeList
			}
			return ShapePair
		}

	case "list":
		return ShapeList

	case "box":
		// A mutable cell may later point at an ancestor.
		return ShapeCyclePossible
	}

	if name, ok := strings.CutPrefix(expr.Str, "mk-"); ok && s.reg != nil {
		if t := s.reg.Lookup(name); t != nil {
			return s.inferConstruction(t, expr.Kids)
		}
	}

	return ShapeUnknown
}

// inferConstruction classifies a constructor call. Scannable children that
// are each built independently in place (no aliasing through variables)
// form a tree no matter what back edges the type allows; aliased or absent
// children fall back to the type's own classification.
func (s *Shapes) inferConstruction(t *registry.Type, args []*ir.Node) Shape {
	fresh, aliased := 0, false
	for i, f := range t.Fields {
		if !f.Scannable || i >= len(args) {
			continue
		}
		switch args[i].Kind {
		case ir.KindSym:
			aliased = true
		case ir.KindNil, ir.KindInt, ir.KindFloat, ir.KindStr:
			// Leaves.
		default:
			fresh++
		}
	}

	if !aliased && fresh >= 2 {
		return ShapeTree
	}
	return s.inferType(t)
}

// inferType classifies a registered type by its ownership-graph structure.
func (s *Shapes) inferType(t *registry.Type) Shape {
	hasWeak := false
	strong := 0
	strongSelf := 0
	for _, f := range t.Fields {
		switch f.Strength {
		case registry.Weak:
			hasWeak = true
		case registry.Strong:
			if s.reg.Lookup(f.TypeName) != nil {
				strong++
				if f.TypeName == t.Name {
					strongSelf++
				}
			}
		}
	}

	switch {
	case hasWeak:
		// A back edge in the type means aliased subparts at run time.
		return ShapeGraph
	case t.CycleProne:
		return ShapeCyclePossible
	case strong >= 2:
		return ShapeTree
	case strongSelf == 1:
		return ShapeList
	case strong == 1:
		return ShapePair
	default:
		return ShapeAtom
	}
}

// join is the least upper bound of two shapes; unequal composite shapes
// collapse to Unknown, which frees as a graph.
func join(a, b Shape) Shape {
	if a == b {
		return a
	}
	if a == ShapeAtom {
		return b
	}
	if b == ShapeAtom {
		return a
	}
	return ShapeUnknown
}
