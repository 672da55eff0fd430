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
	"fmt"

	"github.com/tiendc/go-deepcopy"

	"github.com/loamlang/loam/internal/analysis"
	"github.com/loamlang/loam/internal/asap"
	"github.com/loamlang/loam/internal/ir"
)

// IR is the expression tree exchanged with the front end.
type IR = ir.Node

// AnnotateOption configures [Core.Annotate].
type AnnotateOption struct{ apply func(*annotateConfig) }

type annotateConfig struct {
	sums *analysis.Summaries
}

// WithSummary registers a function's parameter-ownership summary for the
// annotation run. A consumed parameter transfers ownership to the callee,
// suppressing the caller's free.
func WithSummary(fn string, params ...Ownership) AnnotateOption {
	return AnnotateOption{func(cfg *annotateConfig) {
		if cfg.sums == nil {
			cfg.sums = analysis.NewSummaries()
		}
		ps := make([]analysis.Ownership, len(params))
		for i, p := range params {
			ps[i] = analysis.Ownership(p)
		}
		cfg.sums.Add(&analysis.Summary{Name: fn, Params: ps})
	}}
}

// Ownership classifies what a callee does with an argument.
type Ownership uint8

const (
	// Borrowed arguments are read by the callee; the caller frees as
	// usual.
	Borrowed Ownership = Ownership(analysis.Borrowed)
	// Consumed arguments transfer ownership to the callee.
	Consumed Ownership = Ownership(analysis.Consumed)
	// Shared arguments are retained by both sides.
	Shared Ownership = Ownership(analysis.Shared)
)

// Annotate runs the analysis pipeline (type registry, escape, shape, free
// injection) over root and returns an augmented tree carrying explicit
// free, safe-point, tether, and region operations.
//
// The input tree is deep-copied first and never mutated; node identities
// survive the copy, so usage records remain addressable by ID.
func (c *Core) Annotate(root *IR, opts ...AnnotateOption) (*IR, error) {
	c.seal()

	var cfg annotateConfig
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	var clone *ir.Node
	if err := deepcopy.Copy(&clone, root); err != nil {
		return nil, fmt.Errorf("loam: cloning IR: %w", err)
	}

	inj := asap.New(c.reg, cfg.sums)
	inj.Stats = &c.stats
	return inj.Inject(clone), nil
}

// Stats returns a one-line summary of the pipeline's decision counters.
func (c *Core) Stats() string {
	return c.stats.String()
}
