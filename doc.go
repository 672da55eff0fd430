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

// Package loam is the memory-management core of the Loam language: a
// hybrid allocator and compile-time analysis pipeline that decides, per
// allocation site, where an object lives (region vs. heap), when it is
// reclaimed (static free injection, cycle collection, or deferred
// reference counting), and how objects move between regions.
//
// To use this package, build a [Core] with [New], register the program's
// types with [Core.RegisterType], and run [Core.Annotate] over the front
// end's IR. The annotated IR carries explicit free, safe-point, tether,
// and region operations; at run time the core executes them through
// [Core.Open]/[Core.Close] region scopes, [Core.Tether] borrows, and
// [Core.Transmigrate].
//
// # Reclamation strategies
//
// Every binding is classified by escape and shape analysis:
//
//   - Atoms, pairs, and lists free directly at their statically computed
//     last-use point.
//   - Trees, which may alias subterms, go to a budgeted mark collector
//     rooted at the binding.
//   - Graphs and cycle-prone values fall back to batched deferred
//     reference counting at safe points.
//
// Cross-region reads go through tethers: scoped, lease-counted borrow
// capabilities validated against the target region's generation on every
// dereference. Cross-region writes require the parent relation or an
// explicit transmigration, which produces an independent copy in the
// destination region.
package loam
