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

package scc_test

import (
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loamlang/loam/internal/scc"
)

// parse turns an adjacency-matrix picture ('#' marks an edge from the row's
// node to the column's node) into a graph over node indices.
func parse(t *testing.T, picture string) (int, scc.Graph[int]) {
	t.Helper()

	var rows [][]bool
	for line := range strings.Lines(picture) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row := make([]bool, len(line))
		for i, c := range line {
			row[i] = c == '#'
		}
		rows = append(rows, row)
	}

	return len(rows), func(n int) iter.Seq[int] {
		return func(yield func(int) bool) {
			for i, edge := range rows[n] {
				if edge && !yield(i) {
					return
				}
			}
		}
	}
}

func all(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			if !yield(i) {
				return
			}
		}
	}
}

func TestSort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, graph string
		want        [][]int // The expected components, in topological order.
		cyclic      []bool
	}{
		{
			name:   "singleton",
			graph:  `.`,
			want:   [][]int{{0}},
			cyclic: []bool{false},
		},
		{
			name:   "self-loop",
			graph:  `#`,
			want:   [][]int{{0}},
			cyclic: []bool{true},
		},
		{
			name: "tree",
			graph: `.##..
					.....
					...##
					.....
					.....`,
			want:   [][]int{{1}, {3}, {4}, {2}, {0}},
			cyclic: []bool{false, false, false, false, false},
		},
		{
			name: "ring",
			graph: `.#...
					..#..
					...#.
					....#
					#....`,
			want:   [][]int{{0, 1, 2, 3, 4}},
			cyclic: []bool{true},
		},
		{
			name: "two-cycles",
			graph: `.#...
					#..#.
					....#
					..#..
					...#.`,
			want:   [][]int{{2, 3, 4}, {0, 1}},
			cyclic: []bool{true, true},
		},
		{
			name: "dag-over-cycle",
			graph: `.#...
					..#..
					.#.#.
					....#
					.....`,
			want:   [][]int{{4}, {3}, {1, 2}, {0}},
			cyclic: []bool{false, false, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n, graph := parse(t, tt.graph)
			dag := scc.Sort(all(n), graph)

			var got [][]int
			var cyclic []bool
			for c := range dag.Topological() {
				members := slices.Clone(c.Members())
				slices.Sort(members)
				got = append(got, members)
				cyclic = append(cyclic, c.Cyclic())
			}

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.cyclic, cyclic)

			for i, comp := range tt.want {
				for _, member := range comp {
					c := dag.ForNode(member)
					assert.NotNil(t, c)
					assert.Equal(t, cyclic[i], c.Cyclic())
				}
			}
		})
	}
}
