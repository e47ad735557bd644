// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package malloc

import "unsafe"

// heapMapper is a Mapper backed by ordinary Go-heap allocations, used
// throughout the test suite in place of a real Mapper so tests don't
// need actual OS address space for small scenarios. It mirrors the
// production non-unix fallback (osmap_fallback.go) but is kept
// test-local so a change to that file's behavior doesn't silently
// change what the tests exercise.
type heapMapper struct {
	held [][]byte
}

func newHeapMapper() *heapMapper { return &heapMapper{} }

func (m *heapMapper) GetBytes(n int64) (unsafe.Pointer, error) {
	if n <= 0 {
		return nil, &ErrOOM{Requested: uintptr(n)}
	}
	b := make([]byte, n)
	m.held = append(m.held, b)
	return unsafe.Pointer(&b[0]), nil
}

// newTestHeap returns a Heap configured for fast, small-scale tests: a
// heapMapper and a MinMappingBytes small enough that test scenarios
// don't allocate megabytes of backing storage for a handful of bytes.
func newTestHeap(minMappingBytes int64) *Heap {
	return NewHeap(Config{
		MinMappingBytes: minMappingBytes,
		Mapper:          newHeapMapper(),
	})
}
