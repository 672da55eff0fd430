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

package sexp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loam/internal/ir"
	"github.com/loamlang/loam/internal/sexp"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want string
	}{
		{src: `42`, want: `42`},
		{src: `foo`, want: `foo`},
		{src: `()`, want: `()`},
		{src: `(cons 1 2)`, want: `(cons 1 2)`},
		{src: `(let ((x 1)) x)`, want: `(let ((x 1)) x)`},
		{src: `(let ((x 1) (y 2)) (+ x y))`, want: `(let ((x 1) (y 2)) (+ x y))`},
		{src: `(lambda (a b) (+ a b))`, want: `(lambda (a b) (+ a b))`},
		{src: `(if (< x 1) x 1)`, want: `(if (< x 1) x 1)`},
		{src: `(begin 1 2)`, want: `(begin 1 2)`},
		{src: "(cons 1 2) ; trailing comment", want: `(cons 1 2)`},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			t.Parallel()
			n, err := sexp.ParseOne(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestParseForms(t *testing.T) {
	t.Parallel()

	forms, err := sexp.Parse("1 2 3")
	require.NoError(t, err)
	assert.Len(t, forms, 3)

	n, err := sexp.ParseOne("1 2 3")
	require.NoError(t, err)
	assert.Equal(t, ir.KindBegin, n.Kind)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		`(`,
		`)`,
		`(let (x) x)`,
		`(lambda 3 x)`,
		`(if 1 2)`,
		`"unterminated`,
		``,
	} {
		_, err := sexp.ParseOne(src)
		assert.Error(t, err, "%q", src)
	}
}
