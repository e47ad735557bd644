// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Mapping headers, sizing policy, findBlock and grow.

package malloc

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/cznic/mathutil"
)

// mappingHeader heads one OS mapping. Blocks occupy a prefix of
// [start + mappingHeaderSize, end); the remainder is the mapping's
// reserve, appended to by grow without calling back into the
// operating system.
type mappingHeader struct {
	start      uintptr
	end        uintptr
	firstBlock unsafe.Pointer // *blockHeader, always non-nil once the mapping exists
	lastBlock  unsafe.Pointer // *blockHeader
	next       unsafe.Pointer // *mappingHeader, or nil
}

const mappingHeaderSize = unsafe.Sizeof(mappingHeader{})

func mappingAt(p unsafe.Pointer) *mappingHeader { return (*mappingHeader)(p) }

func (m *mappingHeader) nextMapping() *mappingHeader {
	return mappingAt(atomic.LoadPointer(&m.next))
}

func (m *mappingHeader) setNext(n *mappingHeader) {
	atomic.StorePointer(&m.next, unsafe.Pointer(n))
}

func (m *mappingHeader) first() *blockHeader {
	return blockAt(atomic.LoadPointer(&m.firstBlock))
}

func (m *mappingHeader) last() *blockHeader {
	return blockAt(atomic.LoadPointer(&m.lastBlock))
}

func (m *mappingHeader) setLast(b *blockHeader) {
	atomic.StorePointer(&m.lastBlock, unsafe.Pointer(b))
}

// reserveBytes is the unused tail space between the last block's end
// and the mapping's end - the room grow can append another block into
// without a new OS mapping.
func (m *mappingHeader) reserveBytes() uintptr {
	last := m.last()
	used := last.end()
	if used >= m.end {
		return 0
	}
	return m.end - used
}

// roundUp rounds n up to the nearest multiple of mult, mult a power of
// two.
func roundUp(n, mult uintptr) uintptr {
	return (n + mult - 1) &^ (mult - 1)
}

// blockSize computes the block size needed to hold a payload of n
// bytes: a floor of 1024 payload bytes per block, with the 1024 bit
// then ORed in (which adds 1024 bytes of slack to any request whose
// 1024 bit is clear), rounded up to a 16-byte multiple, plus the block
// and trailing-record headers. If that rounding leaves a remainder too
// narrow for its own record header (canCarve), one more header's width
// is added so grow can always carve n from the new block.
//
// n within a few bytes of the uintptr max would otherwise wrap the
// rounding and header arithmetic below into a small, bogus size that
// slips past mappingSize's high-bit check and gets carved into an
// undersized block. Such an n can never be satisfied anyway, so it's
// reported as highBit - large enough that mappingSize always rejects it
// with ErrTooLarge instead of silently wrapping.
func blockSize(n uintptr) uintptr {
	overhead := blockHeaderSize + recordHeaderSize
	if n > highBit-overhead-16 {
		return highBit
	}
	floored := maxUintptr(n, 1024) | 1024
	payload := roundUp(floored, 16)
	if !canCarve(payload, n) {
		payload += recordHeaderSize
	}
	return payload + overhead
}

// maxUintptr is a tiny local helper kept separate from cznic/mathutil's
// Max/Min family, which only covers int and int64; blockSize works in
// uintptr to stay correct on both word widths.
func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

// mappingSize computes the smallest power of two at least
// bs+mappingHeaderSize bytes, never smaller than minBytes. Fails with
// *ErrTooLarge if the result would need the address word's high bit.
func mappingSize(bs uintptr, minBytes int64) (uintptr, error) {
	if bs >= highBit-mappingHeaderSize {
		return 0, &ErrTooLarge{Requested: bs}
	}
	need := uintptr(mathutil.MaxInt64(int64(bs+mappingHeaderSize), minBytes))

	if need >= highBit {
		return 0, &ErrTooLarge{Requested: need}
	}

	shift := 64 - bits.LeadingZeros64(uint64(need-1))
	size := uintptr(1) << uint(shift)
	if size == 0 || size >= highBit {
		return 0, &ErrTooLarge{Requested: need}
	}
	return size, nil
}

// findBlock is a lock-free first-fit walk of every block in every
// mapping, from h.firstMapping forward. It returns the first block
// whose cached largest free record can be carved for n bytes
// (canCarve); the caller must still acquire the block's lock and
// revalidate before carving, since this read is unsynchronized with
// concurrent mutation.
func (h *Heap) findBlock(n uintptr) *blockHeader {
	for m := h.first(); m != nil; m = m.nextMapping() {
		for b := m.first(); b != nil; b = b.nextBlock() {
			if b.hasFreeSlot() && canCarve(b.freeSize(), n) {
				return b
			}
		}
	}
	return nil
}

// grow makes room for an n-byte allocation by appending a block to the
// tail mapping's reserve, or, failing that, requesting a whole new OS
// mapping. Called under the structural lock; returns the payload
// address of an n-byte allocation freshly carved out of whichever one
// had to be created.
func (h *Heap) grow(n uintptr) (unsafe.Pointer, error) {
	bs := blockSize(n)

	if tail := h.lastMapping(); tail != nil {
		if tail.reserveBytes() >= bs {
			where := unsafe.Pointer(tail.last().end())
			b := createBlock(where, bs)
			tail.last().setNext(b)
			tail.setLast(b)
			h.config.trace("malloc: appended block of %d bytes to mapping reserve", bs)
			return b.carve(n), nil
		}
	}

	ms, err := mappingSize(bs, h.config.minMappingBytes())
	if err != nil {
		return nil, err
	}
	// Asking the OS for less than a whole page wastes nothing (it
	// rounds up internally regardless) but asking for a size already a
	// page multiple avoids a wasted partial page the mapping could
	// have claimed as reserve.
	reqBytes := roundUpPage(int64(ms), mapperPageSize(h.mapper))

	raw, err := h.mapper.GetBytes(reqBytes)
	if err != nil {
		return nil, err
	}

	m := mappingAt(raw)
	*m = mappingHeader{
		start: uintptr(raw),
		end:   uintptr(raw) + uintptr(reqBytes),
	}

	blockWhere := unsafe.Pointer(uintptr(raw) + mappingHeaderSize)
	b := createBlock(blockWhere, bs)
	m.firstBlock = blockWhere
	m.setLast(b)

	h.appendMapping(m)
	h.config.trace("malloc: created mapping of %d bytes, block of %d bytes", reqBytes, bs)
	return b.carve(n), nil
}
