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
	"github.com/loamlang/loam/internal/arena"
	"github.com/loamlang/loam/internal/region"
)

// The error kinds the core reports. Fatal kinds (stale tether,
// cross-region write, back-edge violation) unwind through scope exits
// running CLEAN phases; allocation failure is fatal only to the failing
// request.
var (
	// ErrAllocFailure: address-space reservation, commit, or chunk
	// allocation failed.
	ErrAllocFailure = arena.ErrAllocFailure

	// ErrStaleTether: generation mismatch on a tether dereference.
	ErrStaleTether = region.ErrStaleTether

	// ErrCrossRegionWrite: a pointer write between regions that do not
	// satisfy the parent relation.
	ErrCrossRegionWrite = region.ErrCrossRegionWrite

	// ErrBackEdgeViolation: a strong write into a field the analysis
	// classified as weak.
	ErrBackEdgeViolation = region.ErrBackEdgeViolation

	// ErrFrozen: an allocation in a region closed for allocation.
	ErrFrozen = region.ErrFrozen

	// ErrLeaseOverflow: a tether acquisition on a region with a
	// saturated lease count.
	ErrLeaseOverflow = region.ErrLeaseOverflow
)
