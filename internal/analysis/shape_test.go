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

package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loam/internal/analysis"
	"github.com/loamlang/loam/internal/ir"
	"github.com/loamlang/loam/internal/registry"
)

func TestInferLiterals(t *testing.T) {
	t.Parallel()

	s := analysis.NewShapes(nil)
	assert.Equal(t, analysis.ShapeAtom, s.Infer(ir.Int64(1)))
	assert.Equal(t, analysis.ShapeAtom, s.Infer(ir.Float64(1.5)))
	assert.Equal(t, analysis.ShapeAtom, s.Infer(ir.Lambda(nil, ir.Int64(0))))
}

func TestInferConsChains(t *testing.T) {
	t.Parallel()

	s := analysis.NewShapes(nil)

	// (cons 1 (cons 2 (cons 3 ())))
	list := ir.Call("cons", ir.Int64(1),
		ir.Call("cons", ir.Int64(2),
			ir.Call("cons", ir.Int64(3), ir.Nil())))
	assert.Equal(t, analysis.ShapeList, s.Infer(list))

	// (cons 1 2) is a bare pair.
	assert.Equal(t, analysis.ShapePair, s.Infer(ir.Call("cons", ir.Int64(1), ir.Int64(2))))

	// (box v) may later point anywhere.
	assert.Equal(t, analysis.ShapeCyclePossible, s.Infer(ir.Call("box", ir.Int64(1))))
}

func TestInferRegisteredTypes(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	_, err := reg.Register("BTree", []registry.Field{
		{Name: "left", TypeName: "BTree", Scannable: true},
		{Name: "right", TypeName: "BTree", Scannable: true},
	})
	require.NoError(t, err)
	_, err = reg.Register("Ring", []registry.Field{
		{Name: "next", TypeName: "Ring", Scannable: true},
		{Name: "prev", TypeName: "Ring", Scannable: true},
	})
	require.NoError(t, err)
	reg.Seal()

	s := analysis.NewShapes(reg)

	// Independently built children form a tree, even though the type's
	// second self-edge was demoted.
	tree := ir.Call("mk-BTree",
		ir.Call("mk-BTree", ir.Nil(), ir.Nil()),
		ir.Call("mk-BTree", ir.Nil(), ir.Nil()))
	assert.Equal(t, analysis.ShapeTree, s.Infer(tree))

	// Aliased children fall back to the type: Ring carries a weak back
	// edge, so it frees as a graph.
	ring := ir.Call("mk-Ring", ir.Sym("head"), ir.Sym("tail"))
	assert.Equal(t, analysis.ShapeGraph, s.Infer(ring))
	assert.Equal(t, analysis.ShapeGraph, s.Infer(ir.Call("mk-Ring")))
}

func TestShapeThroughBindings(t *testing.T) {
	t.Parallel()

	s := analysis.NewShapes(nil)
	s.Assign("xs", ir.Call("list", ir.Int64(1)))
	assert.Equal(t, analysis.ShapeList, s.Infer(ir.Sym("xs")))
	assert.Equal(t, analysis.ShapeUnknown, s.Infer(ir.Sym("unbound")))
}

func TestFreeStrategy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, analysis.StrategyDirect, analysis.FreeStrategy(analysis.ShapeAtom))
	assert.Equal(t, analysis.StrategyDirect, analysis.FreeStrategy(analysis.ShapeList))
	assert.Equal(t, analysis.StrategySCC, analysis.FreeStrategy(analysis.ShapeTree))
	assert.Equal(t, analysis.StrategyDeferred, analysis.FreeStrategy(analysis.ShapeGraph))
	assert.Equal(t, analysis.StrategyDeferred, analysis.FreeStrategy(analysis.ShapeCyclePossible))
	// The conservative fallback: unknown frees as a graph.
	assert.Equal(t, analysis.StrategyDeferred, analysis.FreeStrategy(analysis.ShapeUnknown))
	assert.Equal(t, "free-graph-deferred", analysis.FreeFunc(analysis.ShapeUnknown))
}
