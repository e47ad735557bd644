// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package malloc

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

var _ Mapper = (*osMapper)(nil)

// osMapper is the production Mapper: it asks the kernel for anonymous,
// private, zero-initialized pages via mmap(2), the same collaborator
// role cznic/memory's internal mmap() helper and the Go runtime's own
// mem_linux.go fill.
type osMapper struct {
	pageSize int64

	// held is kept alive only so the backing []byte isn't collected by
	// anyone's imagination of "who owns this slice" - the memory itself
	// is OS-backed and outside the Go heap, so the Go GC neither scans
	// nor moves it; mappings live until process exit, per spec.
	held [][]byte
}

func newOSMapper() *osMapper {
	return &osMapper{pageSize: int64(os.Getpagesize())}
}

// PageSize implements pageSizer.
func (m *osMapper) PageSize() int64 { return m.pageSize }

// GetBytes implements Mapper.
func (m *osMapper) GetBytes(n int64) (unsafe.Pointer, error) {
	if n <= 0 {
		return nil, &ErrOOM{Requested: uintptr(n)}
	}

	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &ErrOOM{Requested: uintptr(n), More: err}
	}

	m.held = append(m.held, b)
	return unsafe.Pointer(&b[0]), nil
}

// Close releases every mapping this osMapper has ever handed out. It
// exists only for tests that want a clean process; the Heap itself
// never calls it (no-unmap is a Non-goal).
func (m *osMapper) Close() error {
	var first error
	for _, b := range m.held {
		if err := unix.Munmap(b); err != nil && first == nil {
			first = err
		}
	}
	m.held = nil
	return first
}
