// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package malloc

import "unsafe"

var _ Mapper = (*osMapper)(nil)

// osMapper on non-unix platforms falls back to ordinary Go-heap
// allocations. Go's non-moving, non-compacting collector means a
// pinned []byte's address is as stable as an mmap'd one for as long as
// something keeps it reachable, which m.held does for the life of the
// process.
type osMapper struct {
	held [][]byte
}

func newOSMapper() *osMapper { return &osMapper{} }

// GetBytes implements Mapper.
func (m *osMapper) GetBytes(n int64) (unsafe.Pointer, error) {
	if n <= 0 {
		return nil, &ErrOOM{Requested: uintptr(n)}
	}

	b := make([]byte, n)
	m.held = append(m.held, b)
	return unsafe.Pointer(&b[0]), nil
}
