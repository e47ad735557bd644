// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package malloc

import "unsafe"

// Mapper is the operating system mapping primitive collaborator. It
// must return a page-aligned, read/write, zero-initialized byte range
// of exactly n bytes, or report failure. Mapper implementations are
// never called while a Heap holds any block lock; they may be called
// while the structural lock is held.
//
// A Mapper is never asked to release a mapping - this allocator never
// unmaps.
type Mapper interface {
	// GetBytes returns the address of a new zeroed mapping of n bytes,
	// or an error (typically *ErrOOM) on failure.
	GetBytes(n int64) (unsafe.Pointer, error)
}

// roundUpPage rounds n up to the nearest multiple of the platform page
// size, as reported by the active Mapper's PageSize, if it implements
// one; otherwise it assumes a conservative 4 KiB page.
func roundUpPage(n int64, pageSize int64) int64 {
	if pageSize <= 0 {
		pageSize = 4096
	}
	if r := n % pageSize; r != 0 {
		n += pageSize - r
	}
	return n
}

// pageSizer is implemented by Mappers that know their native page size.
// The unix osMapper does; the non-unix osMapper and the test-only
// heapMapper do not, so mapperPageSize reports 0 for them and
// roundUpPage falls back to the conservative default.
type pageSizer interface {
	PageSize() int64
}

func mapperPageSize(m Mapper) int64 {
	if ps, ok := m.(pageSizer); ok {
		return ps.PageSize()
	}
	return 0
}
