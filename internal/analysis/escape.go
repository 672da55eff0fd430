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

// Package analysis implements the static passes that classify bindings:
// escape analysis, shape analysis, and function ownership summaries. The
// injector consumes all three to place frees.
package analysis

import (
	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/ir"
)

// EscapeClass is a point on the escape lattice.
//
// None ⊑ Local ⊑ Closure ⊑ Global; any occurrence raises a binding's class
// monotonically.
type EscapeClass uint8

const (
	EscapeNone EscapeClass = iota
	EscapeLocal
	EscapeClosure
	EscapeGlobal
)

// String implements [fmt.Stringer].
func (c EscapeClass) String() string {
	switch c {
	case EscapeNone:
		return "none"
	case EscapeLocal:
		return "local"
	case EscapeClosure:
		return "closure"
	case EscapeGlobal:
		return "global"
	default:
		return "invalid"
	}
}

// Usage is the record escape analysis produces per binding.
type Usage struct {
	Name             string
	UseCount         int
	LastUseDepth     int
	CapturedByLambda bool
	Escape           EscapeClass
}

// Escape analyzes occurrences of a set of bound variables in an
// expression.
type Escape struct {
	vars  map[string]*Usage
	order []string
}

// NewEscape returns an analysis over no variables.
func NewEscape() *Escape {
	return &Escape{vars: make(map[string]*Usage)}
}

// Bind adds a variable to the analyzed set.
func (e *Escape) Bind(name string) {
	if _, ok := e.vars[name]; ok {
		return
	}
	e.vars[name] = &Usage{Name: name}
	e.order = append(e.order, name)
}

// Lookup returns the usage record for name, or nil if name is not bound.
func (e *Escape) Lookup(name string) *Usage {
	return e.vars[name]
}

// Usages returns the records in binding order.
func (e *Escape) Usages() []*Usage {
	out := make([]*Usage, len(e.order))
	for i, name := range e.order {
		out[i] = e.vars[name]
	}
	return out
}

// raise moves a binding's class up the lattice. Classes never go down.
func (u *Usage) raise(c EscapeClass) {
	u.Escape = max(u.Escape, c)
}

// Analyze walks expr recording, for each occurrence of an analyzed
// variable, its syntactic depth and whether it sits under a lambda.
func (e *Escape) Analyze(expr *ir.Node) {
	e.walk(expr, 0, false)
}

func (e *Escape) walk(n *ir.Node, depth int, inLambda bool) {
	if n == nil {
		return
	}

	switch n.Kind {
	case ir.KindSym:
		u := e.vars[n.Str]
		if u == nil {
			return
		}
		u.UseCount++
		u.LastUseDepth = max(u.LastUseDepth, depth)
		if inLambda {
			u.CapturedByLambda = true
			u.raise(EscapeClosure)
		}
		debug.Log(nil, "use", "%s depth=%d lambda=%v", n.Str, depth, inLambda)

	case ir.KindLambda:
		e.walk(n.Body, depth+1, true)

	case ir.KindLet:
		// Inner rebindings shadow; occurrences of a shadowed name in the
		// inner body belong to the inner binding.
		shadowed := make([]string, 0, len(n.Bindings))
		for _, b := range n.Bindings {
			e.walk(b.Value, depth+1, inLambda)
			if _, ok := e.vars[b.Name]; ok {
				shadowed = append(shadowed, b.Name)
			}
		}
		saved := make(map[string]*Usage, len(shadowed))
		for _, name := range shadowed {
			saved[name] = e.vars[name]
			delete(e.vars, name)
		}
		e.walk(n.Body, depth+1, inLambda)
		for name, u := range saved {
			e.vars[name] = u
		}

	default:
		for _, b := range n.Bindings {
			e.walk(b.Value, depth+1, inLambda)
		}
		for _, k := range n.Kids {
			e.walk(k, depth+1, inLambda)
		}
		e.walk(n.Body, depth+1, inLambda)
	}
}

// AnalyzeResult raises variables reachable from expr's result position to
// at least class. The caller passes EscapeLocal for a scope's result and
// EscapeGlobal for the program's result.
func (e *Escape) AnalyzeResult(expr *ir.Node, class EscapeClass) {
	if expr == nil {
		return
	}

	switch expr.Kind {
	case ir.KindSym:
		if u := e.vars[expr.Str]; u != nil {
			u.raise(class)
		}

	case ir.KindIf:
		// Both arms are result positions; the condition is not.
		if len(expr.Kids) == 3 {
			e.AnalyzeResult(expr.Kids[1], class)
			e.AnalyzeResult(expr.Kids[2], class)
		}

	case ir.KindBegin:
		if len(expr.Kids) > 0 {
			e.AnalyzeResult(expr.Kids[len(expr.Kids)-1], class)
		}

	case ir.KindLet, ir.KindRegion:
		e.AnalyzeResult(expr.Body, class)

	case ir.KindCall:
		if isConstructor(expr.Str) {
			// A constructed result carries its arguments with it.
			for _, k := range expr.Kids {
				e.AnalyzeResult(k, class)
			}
		}

	case ir.KindLambda:
		// The closure escapes with everything it captured; the capture
		// walk already raised those to EscapeClosure. Raise them further
		// if the closure itself escapes the program.
		if class == EscapeGlobal {
			ir.Walk(expr.Body, func(n *ir.Node) bool {
				if n.Kind == ir.KindSym {
					if u := e.vars[n.Str]; u != nil && u.CapturedByLambda {
						u.raise(EscapeGlobal)
					}
				}
				return true
			})
		}
	}
}

// isConstructor reports whether op builds a value out of its arguments,
// so that escaping results propagate into them.
func isConstructor(op string) bool {
	switch op {
	case "cons", "list", "box", "vector", "dict":
		return true
	}
	return len(op) > 3 && op[:3] == "mk-"
}
