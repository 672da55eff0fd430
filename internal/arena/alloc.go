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

package arena

import (
	"github.com/loamlang/loam/internal/xunsafe"
	"github.com/loamlang/loam/internal/xunsafe/layout"
)

// New allocates a new value of type T on an arena.
//
// T must not contain Go pointers: arena memory is invisible to the garbage
// collector.
func New[T any](a *Arena, value T) (*T, error) {
	size, align := layout.Of[T]()
	if align > Align {
		panic("loam: over-aligned object")
	}

	p, err := a.Alloc(size)
	if err != nil {
		return nil, err
	}
	q := xunsafe.Cast[T](p)
	*q = value
	return q, nil
}
