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

package region

import (
	"github.com/dolthub/maphash"
)

// seenTable maps source object addresses to their copies during
// transmigration. It is a linear-probe table hashed with maphash, sized
// for the common case of small closures; the address-keyed map is the
// transmigrator's hot spot.
type seenTable struct {
	hasher     maphash.Hasher[uintptr]
	keys, vals []uintptr
	mask       uintptr
	len        int
}

const seenInitial = 64 // must be a power of two

func newSeenTable() *seenTable {
	return &seenTable{
		hasher: maphash.NewHasher[uintptr](),
		keys:   make([]uintptr, seenInitial),
		vals:   make([]uintptr, seenInitial),
		mask:   seenInitial - 1,
	}
}

// get returns the copy recorded for key, or 0.
func (s *seenTable) get(key uintptr) uintptr {
	for i := uintptr(s.hasher.Hash(key)) & s.mask; ; i = (i + 1) & s.mask {
		switch s.keys[i] {
		case key:
			return s.vals[i]
		case 0:
			return 0
		}
	}
}

// put records a copy for key, which must not be present.
func (s *seenTable) put(key, val uintptr) {
	if s.len*4 >= len(s.keys)*3 {
		s.grow()
	}
	for i := uintptr(s.hasher.Hash(key)) & s.mask; ; i = (i + 1) & s.mask {
		if s.keys[i] == 0 {
			s.keys[i], s.vals[i] = key, val
			s.len++
			return
		}
	}
}

func (s *seenTable) grow() {
	keys, vals := s.keys, s.vals
	n := len(keys) * 2
	s.keys = make([]uintptr, n)
	s.vals = make([]uintptr, n)
	s.mask = uintptr(n - 1)
	s.len = 0
	for i, k := range keys {
		if k != 0 {
			s.put(k, vals[i])
		}
	}
}
