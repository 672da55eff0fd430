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

package loam_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loam"
	"github.com/loamlang/loam/internal/sexp"
)

func TestAnnotateLinearList(t *testing.T) {
	t.Parallel()

	core := loam.New()
	form, err := sexp.ParseOne(`(let ((xs (cons 1 (cons 2 (cons 3 ()))))) (length xs))`)
	require.NoError(t, err)

	annotated, err := core.Annotate(form)
	require.NoError(t, err)

	out := annotated.String()
	assert.Equal(t, 1, strings.Count(out, "(%free-list xs)"), "exactly one free at let exit: %s", out)
	assert.Contains(t, out, "(%safe-point)")

	// The input tree is never mutated.
	assert.NotContains(t, form.String(), "%free-list")
}

func TestAnnotateClosureCapture(t *testing.T) {
	t.Parallel()

	core := loam.New()
	form, err := sexp.ParseOne(`(let ((p (cons 1 2))) (lambda () (car p)))`)
	require.NoError(t, err)

	annotated, err := core.Annotate(form)
	require.NoError(t, err)

	out := annotated.String()
	assert.NotContains(t, out, "%free", "captured binding is not freed")
	assert.Contains(t, out, "ownership transferred to closure")
}

func TestAnnotateWithSummary(t *testing.T) {
	t.Parallel()

	core := loam.New()
	form, err := sexp.ParseOne(`(let ((msg (cons 1 2))) (chan-send! msg))`)
	require.NoError(t, err)

	annotated, err := core.Annotate(form, loam.WithSummary("chan-send!", loam.Consumed))
	require.NoError(t, err)
	assert.Contains(t, annotated.String(), "consumed by callee")
}

func TestRegisterTypeAndStrengths(t *testing.T) {
	t.Parallel()

	core := loam.New()
	_, err := core.RegisterType("Node", []loam.Field{
		{Name: "val", TypeName: "int"},
		{Name: "next", TypeName: "Node", Scannable: true},
		{Name: "prev", TypeName: "Node", Scannable: true},
	})
	require.NoError(t, err)

	next, err := core.FieldStrength("Node", 1)
	require.NoError(t, err)
	prev, err := core.FieldStrength("Node", 2)
	require.NoError(t, err)
	assert.Equal(t, "strong", next)
	assert.Equal(t, "weak", prev)

	// The registry is sealed after first use.
	_, err = core.RegisterType("Late", nil)
	assert.Error(t, err)
}

func TestRegionScopesAndAllocation(t *testing.T) {
	t.Parallel()

	core := loam.New()
	err := core.WithRegion(nil, func(r *loam.Region) error {
		xs, err := core.List(r, loam.FromInt(1), loam.FromInt(2), loam.FromInt(3))
		if err != nil {
			return err
		}
		assert.Equal(t, 3, loam.Length(xs))
		assert.Equal(t, 1, loam.Car(xs).Int())

		core.Freer(r).FreeList(xs)
		assert.Zero(t, r.Heap().Live(), "no leaks at scope exit")
		return nil
	})
	require.NoError(t, err)
}

func TestTransmigrateAcrossRegions(t *testing.T) {
	t.Parallel()

	core := loam.New()
	a := core.Open(nil)
	b := core.Open(nil)

	pair, err := core.Cons(a, loam.FromInt(1), loam.FromInt(2))
	require.NoError(t, err)
	// A second object defeats the splice path; this is a real copy.
	_, err = core.Cons(a, loam.FromInt(0), loam.FromInt(0))
	require.NoError(t, err)

	copied, err := core.Transmigrate(b, pair)
	require.NoError(t, err)
	assert.NotEqual(t, pair, copied)
	assert.Equal(t, 1, loam.Car(copied).Int())

	core.Close(a)
	core.Close(b)
}

func TestChannelRoundTrip(t *testing.T) {
	t.Parallel()

	core := loam.New()
	ch := core.NewChannel(1)

	got := make(chan int)
	go func() {
		r := core.Open(nil)
		o, err := ch.Recv(r)
		if err != nil {
			got <- -1
			return
		}
		got <- loam.Car(o).Int()
		core.Close(r)
	}()

	sender := core.Open(nil)
	pair, err := core.Cons(sender, loam.FromInt(1), loam.FromInt(2))
	require.NoError(t, err)
	require.NoError(t, ch.Send(pair))
	core.Close(sender)

	assert.Equal(t, 1, <-got)
}

func TestSafePointRunsDeferredWork(t *testing.T) {
	t.Parallel()

	core := loam.New()
	r := core.Open(nil)

	d := core.Deferred(r)
	d.SetBatch(2)

	cell, err := core.Box(r, loam.FromInt(9))
	require.NoError(t, err)
	cell.SetRC(5)
	for range 5 {
		d.Defer(cell)
	}

	// Above threshold: the safe point applies a batch.
	require.True(t, d.ShouldProcess())
	core.SafePoint()
	assert.Less(t, d.Pending(), 5)

	core.Shutdown()
	assert.Equal(t, d.Deferred(), d.Applied())
	assert.True(t, cell.Dead())
}

func TestStatsSummary(t *testing.T) {
	t.Parallel()

	core := loam.New()
	form, err := sexp.ParseOne(`(let ((xs (cons 1 ()))) (length xs))`)
	require.NoError(t, err)
	_, err = core.Annotate(form)
	require.NoError(t, err)

	assert.Contains(t, core.Stats(), "frees=1")
}
