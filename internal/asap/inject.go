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

// Package asap injects explicit reclamation into the IR: per-binding free
// operations at scope exit, safe points, tether/untether pairs for borrowed
// bindings, and region scopes around cycle-prone allocations.
//
// The injected CLEAN phase of a let runs after the body's result is
// captured, on every exit path, in reverse declaration order. A free is
// emitted only when the binding provably does not outlive its scope: not
// captured by a lambda, not escaping to the program result, not consumed by
// a callee.
package asap

import (
	"github.com/loamlang/loam/internal/analysis"
	"github.com/loamlang/loam/internal/debug"
	"github.com/loamlang/loam/internal/ir"
	"github.com/loamlang/loam/internal/registry"
	"github.com/loamlang/loam/internal/stats"
)

// Reasons recorded on injected notes.
const (
	NoteCaptured = "ownership transferred to closure"
	NoteEscapes  = "escapes scope"
	NoteConsumed = "consumed by callee"
	NoteBorrowed = "borrowed"
)

// Injector runs components B through E over an IR tree.
type Injector struct {
	reg  *registry.Registry
	sums *analysis.Summaries

	// Stats, when set, counts the injector's per-binding decisions.
	Stats *stats.Pipeline
}

// New returns an injector over a sealed registry. sums may be nil.
func New(reg *registry.Registry, sums *analysis.Summaries) *Injector {
	if reg != nil && !reg.Sealed() {
		reg.Seal()
	}
	return &Injector{reg: reg, sums: sums}
}

// Inject rewrites root in place, filling in Pre/Clean on every let and
// wrapping cycle-prone scopes in region nodes. The returned node is the
// annotated root; the root's own result is treated as the program result.
func (in *Injector) Inject(root *ir.Node) *ir.Node {
	return in.rewrite(root, analysis.EscapeGlobal)
}

// rewrite processes n bottom-up. resultClass is the escape class conferred
// on bindings that flow into n's result.
func (in *Injector) rewrite(n *ir.Node, resultClass analysis.EscapeClass) *ir.Node {
	if n == nil {
		return nil
	}

	switch n.Kind {
	case ir.KindLet:
		return in.rewriteLet(n, resultClass)

	case ir.KindLambda:
		n.Body = in.rewrite(n.Body, analysis.EscapeLocal)
		return n

	case ir.KindIf:
		if len(n.Kids) == 3 {
			n.Kids[0] = in.rewrite(n.Kids[0], analysis.EscapeNone)
			n.Kids[1] = in.rewrite(n.Kids[1], resultClass)
			n.Kids[2] = in.rewrite(n.Kids[2], resultClass)
		}
		return n

	case ir.KindBegin:
		for i, k := range n.Kids {
			class := analysis.EscapeNone
			if i == len(n.Kids)-1 {
				class = resultClass
			}
			n.Kids[i] = in.rewrite(k, class)
		}
		return n

	default:
		for i, k := range n.Kids {
			n.Kids[i] = in.rewrite(k, analysis.EscapeNone)
		}
		n.Body = in.rewrite(n.Body, resultClass)
		return n
	}
}

func (in *Injector) rewriteLet(n *ir.Node, resultClass analysis.EscapeClass) *ir.Node {
	// Children first, so inner scopes free before outer ones reason about
	// them.
	for i := range n.Bindings {
		n.Bindings[i].Value = in.rewrite(n.Bindings[i].Value, analysis.EscapeNone)
	}
	n.Body = in.rewrite(n.Body, resultClass)

	esc := analysis.NewEscape()
	shapes := analysis.NewShapes(in.reg)
	for _, b := range n.Bindings {
		esc.Bind(b.Name)
		shapes.Assign(b.Name, b.Value)
	}
	// Occurrences in later binding values count as uses (let* style); this
	// over-approximates for a parallel let, which only delays a free.
	for _, b := range n.Bindings {
		esc.Analyze(b.Value)
	}
	esc.Analyze(n.Body)
	esc.AnalyzeResult(n.Body, resultClass)

	consumed := in.findConsumed(n.Body)

	needsRegion := false
	n.Pre = n.Pre[:0]
	n.Clean = n.Clean[:0]

	// Borrowed bindings are tethered for the scope's duration.
	for _, b := range n.Bindings {
		if b.Value.Kind == ir.KindSym {
			n.Pre = append(n.Pre, ir.Tether(b.Name))
			if in.Stats != nil {
				in.Stats.Tethers.Record()
			}
		}
	}

	// CLEAN phase: reverse declaration order.
	for i := len(n.Bindings) - 1; i >= 0; i-- {
		b := n.Bindings[i]
		u := esc.Lookup(b.Name)
		shape := shapes.Lookup(b.Name)

		switch {
		case b.Value.Kind == ir.KindSym:
			n.Clean = append(n.Clean, ir.Untether(b.Name))

		case u.CapturedByLambda:
			n.Clean = append(n.Clean, ir.Note(b.Name, NoteCaptured))
			if in.Stats != nil {
				in.Stats.CapturedSkips.Record()
			}

		case u.Escape == analysis.EscapeGlobal:
			n.Clean = append(n.Clean, ir.Note(b.Name, NoteEscapes))
			if in.Stats != nil {
				in.Stats.EscapeSkips.Record()
			}

		case consumed[b.Name]:
			n.Clean = append(n.Clean, ir.Note(b.Name, NoteConsumed))
			if in.Stats != nil {
				in.Stats.ConsumedSkips.Record()
			}

		default:
			// An unused binding with no escape is still bound and freed;
			// dead-store elimination is the front end's concern.
			n.Clean = append(n.Clean, ir.Free(b.Name, analysis.FreeFunc(shape)))
			if in.Stats != nil {
				switch analysis.FreeStrategy(shape) {
				case analysis.StrategyDirect:
					in.Stats.FreesEmitted.Record()
				case analysis.StrategySCC:
					in.Stats.SCCRoots.Record()
				case analysis.StrategyDeferred:
					in.Stats.DeferredRoutes.Record()
				}
			}
			if analysis.FreeStrategy(shape) != analysis.StrategyDirect {
				needsRegion = true
			}
		}

		debug.Log(nil, "clean", "%s shape=%v escape=%v captured=%v",
			b.Name, shape, u.Escape, u.CapturedByLambda)
	}

	n.Clean = append(n.Clean, ir.SafePoint())

	if needsRegion {
		if in.Stats != nil {
			in.Stats.Regions.Record()
		}
		return ir.Region(n.Bindings[0].Name, n)
	}
	return n
}

// findConsumed walks a scope body for call sites whose summaries consume
// an argument binding.
func (in *Injector) findConsumed(body *ir.Node) map[string]bool {
	consumed := make(map[string]bool)
	if in.sums == nil {
		return consumed
	}

	ir.Walk(body, func(n *ir.Node) bool {
		if n.Kind != ir.KindCall {
			return true
		}
		for i, arg := range n.Kids {
			if arg.Kind != ir.KindSym {
				continue
			}
			if in.sums.Param(n.Str, i) == analysis.Consumed {
				consumed[arg.Str] = true
			}
		}
		return true
	})
	return consumed
}
