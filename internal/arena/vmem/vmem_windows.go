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

package vmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const commitSurvivesDecommit = false

func reserve(size int) (Span, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func commit(span Span, upTo int) error {
	if upTo == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(span)))
	_, err := windows.VirtualAlloc(addr, uintptr(upTo), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func decommit(span Span) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(span)))
	return windows.VirtualFree(addr, uintptr(len(span)), windows.MEM_DECOMMIT)
}

func release(span Span) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(span)))
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func hintHugePages(span Span) {}
