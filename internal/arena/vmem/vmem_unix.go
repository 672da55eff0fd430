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

//go:build unix

package vmem

import "golang.org/x/sys/unix"

const commitSurvivesDecommit = true

func reserve(size int) (Span, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return Span(b), nil
}

func commit(span Span, upTo int) error {
	if upTo == 0 {
		return nil
	}
	return unix.Mprotect(span[:upTo], unix.PROT_READ|unix.PROT_WRITE)
}

func decommit(span Span) error {
	return unix.Madvise(span, unix.MADV_DONTNEED)
}

func release(span Span) error {
	return unix.Munmap(span)
}
