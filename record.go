// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Allocation record headers and the pointer arithmetic that walks them.
//
// This file, block.go and mapping.go are the only places in the package
// that do raw unsafe.Pointer/uintptr arithmetic over the heap's address
// space - one small, well-commented file per layout level, rather than
// scattering pointer math throughout the package.

package malloc

import "unsafe"

// recordHeader precedes every allocation record's payload. size is the
// payload byte count (not counting this header); owner is either nil
// (record is free) or the address of the blockHeader that contains it
// (record is in use). Record headers are never removed: they exist for
// the lifetime of their mapping and merely toggle between the two
// states.
type recordHeader struct {
	size  uintptr
	owner unsafe.Pointer // *blockHeader, or nil meaning free
}

const recordHeaderSize = unsafe.Sizeof(recordHeader{})

// recordAt views the bytes at p as a recordHeader. p must be the
// address of a valid record header within some block.
func recordAt(p unsafe.Pointer) *recordHeader {
	return (*recordHeader)(p)
}

// payload returns the address of r's payload, immediately following
// its header.
func (r *recordHeader) payload() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(r)) + recordHeaderSize)
}

// headerFromPayload recovers a record's header address from a payload
// pointer previously returned by the public API.
func headerFromPayload(p unsafe.Pointer) *recordHeader {
	return recordAt(unsafe.Pointer(uintptr(p) - recordHeaderSize))
}

// next returns the header of the record immediately following r, i.e.
// this record's header plus its header size plus its payload size.
// Callers must know r is not the block's last record.
func (r *recordHeader) next() *recordHeader {
	return recordAt(unsafe.Pointer(uintptr(unsafe.Pointer(r)) + recordHeaderSize + r.size))
}

// free reports whether r currently denotes a free record.
func (r *recordHeader) free() bool { return r.owner == nil }

// markUsed sets r's owner and size, turning it into an in-use record.
func (r *recordHeader) markUsed(owner *blockHeader, size uintptr) {
	r.size = size
	r.owner = unsafe.Pointer(owner)
}

// markFree sets r's sentinel owner, turning it into a free record. Its
// size field is left to the caller (compaction recomputes it).
func (r *recordHeader) markFree(size uintptr) {
	r.size = size
	r.owner = nil
}

// block returns the blockHeader that owns an in-use record.
func (r *recordHeader) block() *blockHeader {
	return (*blockHeader)(r.owner)
}
