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

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/loamlang/loam/internal/xunsafe/layout"
)

// intptr is an integer type with the same layout as a uintptr but signed.
//
// On every platform we support, int and uintptr have the same layout.
type intptr int

// Addr is a typed raw address.
//
// Unlike a *T, an Addr[T] is invisible to the garbage collector: whatever
// keeps the pointee alive must do so by other means.
type Addr[T any] intptr

// AddrOf gets the address of a pointer.
func AddrOf[P ~*E, E any](p P) Addr[E] {
	return Addr[E](uintptr(unsafe.Pointer(p)))
}

// EndOf calculates the one-past-the-end address of s without creating an
// intermediate one-past-the-end pointer.
func EndOf[S ~[]E, E any](s S) Addr[E] {
	return AddrOf(unsafe.SliceData(s)).Add(len(s))
}

// AssertValid asserts that this address is a valid pointer.
//
//go:nosplit
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a))) // Don't worry about it.
}

// Add adds the given offset to this address, scaled by the size of T.
func (a Addr[T]) Add(n int) Addr[T] {
	return a + Addr[T](n*layout.Size[T]())
}

// ByteAdd adds the given unscaled offset to this address.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return a + Addr[T](n)
}

// Sub computes the difference of two addresses, scaled by the size of T.
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(a-b) / layout.Size[T]()
}

// Misalign returns how far this address is past the previous multiple of
// align, and how far it is to the next one. align must be a power of two.
func (a Addr[T]) Misalign(align int) (down, up int) {
	down = int(a) & (align - 1)
	return down, (align - down) & (align - 1)
}

// RoundUpTo rounds this address upwards to align, which must be a power of
// two.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(uintptr(a), uintptr(align)))
}

// Format implements [fmt.Formatter].
func (a Addr[T]) Format(state fmt.State, verb rune) {
	if verb == 'v' {
		fmt.Fprintf(state, "%#x", uintptr(a))
		return
	}

	fmt.Fprintf(state, fmt.FormatString(state, verb), uintptr(a))
}
