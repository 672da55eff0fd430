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

// Package vmem wraps the operating system's virtual memory primitives.
//
// A span is a reservation of virtual address space with no physical backing.
// Pages become usable only after [Commit]; [Decommit] returns the physical
// pages to the OS while keeping the reservation, so span addresses are
// stable for the lifetime of the reservation.
package vmem

import (
	"os"

	"github.com/loamlang/loam/internal/xunsafe/layout"
)

// PageSize is the OS page size.
var PageSize = os.Getpagesize()

// CeilPage rounds n up to a whole number of pages.
func CeilPage(n int) int {
	return layout.RoundUp(n, PageSize)
}

// Span is a reservation of virtual address space. Only the first
// "committed" bytes (tracked by the caller) may be touched.
type Span []byte

// Reserve reserves size bytes of address space with no access rights and no
// physical backing. size must be page-aligned.
func Reserve(size int) (Span, error) {
	return reserve(size)
}

// Commit makes span[:upTo] readable and writable, backing it with physical
// pages on first touch. upTo must be page-aligned and at most len(span).
func Commit(span Span, upTo int) error {
	return commit(span, upTo)
}

// Decommit returns all of span's physical pages to the OS. The reservation
// and its address remain valid.
func Decommit(span Span) error {
	return decommit(span)
}

// Release unmaps the reservation entirely. span must not be used afterward.
func Release(span Span) error {
	return release(span)
}

// HintHugePages asks the OS to back span with transparent huge pages, where
// supported. Failure is not reported: the hint is advisory.
func HintHugePages(span Span) {
	hintHugePages(span)
}

// CommitSurvivesDecommit reports whether committed pages remain accessible
// after [Decommit]. POSIX systems refault decommitted pages as zeroes;
// Windows requires an explicit re-commit.
func CommitSurvivesDecommit() bool {
	return commitSurvivesDecommit
}
