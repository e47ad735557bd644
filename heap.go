// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The Heap type and the four public operations: Allocate, Free,
// ZeroAlloc, Resize.

package malloc

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Heap is a process-wide (or, for tests, private) allocator instance:
// the root of its mapping list, plus its configuration and mapping
// primitive. The zero Heap is not usable; construct one with NewHeap.
type Heap struct {
	firstMapping   unsafe.Pointer // *mappingHeader, or nil
	structuralLock uint32

	config Config
	mapper Mapper
}

// NewHeap constructs a Heap ready to serve Allocate/Free/ZeroAlloc/
// Resize. Most programs need only one; use the package-level
// functions unless isolation (as in tests) is required.
func NewHeap(cfg Config) *Heap {
	m := cfg.Mapper
	if m == nil {
		m = newOSMapper()
	}
	return &Heap{config: cfg, mapper: m}
}

func (h *Heap) first() *mappingHeader {
	return mappingAt(atomic.LoadPointer(&h.firstMapping))
}

func (h *Heap) lastMapping() *mappingHeader {
	m := h.first()
	if m == nil {
		return nil
	}
	for m.nextMapping() != nil {
		m = m.nextMapping()
	}
	return m
}

// appendMapping links m as the new tail of the mapping list. Callers
// must hold the structural lock.
func (h *Heap) appendMapping(m *mappingHeader) {
	if tail := h.lastMapping(); tail != nil {
		tail.setNext(m)
		return
	}
	atomic.StorePointer(&h.firstMapping, unsafe.Pointer(m))
}

var (
	defaultHeap     *Heap
	defaultHeapOnce sync.Once
)

// theDefaultHeap lazily constructs the package-level default Heap the
// first time any top-level function needs it. sync.Once gives the
// same thread-safe-lazy-init guarantee NewHeap callers get for free by
// constructing explicitly; see the Design Note on global mutable state.
func theDefaultHeap() *Heap {
	defaultHeapOnce.Do(func() {
		defaultHeap = NewHeap(Config{})
	})
	return defaultHeap
}

// Allocate requests n payload bytes from the package-level default
// Heap. See (*Heap).Allocate.
func Allocate(n uintptr) unsafe.Pointer { return theDefaultHeap().Allocate(n) }

// Free releases p, previously returned by Allocate/ZeroAlloc/Resize on
// the package-level default Heap. See (*Heap).Free.
func Free(p unsafe.Pointer) { theDefaultHeap().Free(p) }

// ZeroAlloc requests a zeroed n*m byte region from the package-level
// default Heap. See (*Heap).ZeroAlloc.
func ZeroAlloc(n, m uintptr) unsafe.Pointer { return theDefaultHeap().ZeroAlloc(n, m) }

// Resize changes p's size in place if possible, falling back to
// allocate-copy-free, on the package-level default Heap. See
// (*Heap).Resize.
func Resize(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	return theDefaultHeap().Resize(p, newSize)
}

// Allocate finds or creates room for n payload bytes and returns its
// address, or nil if the request cannot be satisfied. findBlock's
// lock-free read may race a concurrent mutation, so a lost block-lock
// CAS rechecks the cached free size before retrying. A block that no
// longer fits sends the search back to the top of the mapping list; a
// block that still fits but stays contended for maxBlockRetries
// attempts ends the search and the request falls through to mapping
// growth under the structural lock. Allocate(0) returns a
// distinct, uniquely owned address, never nil.
func (h *Heap) Allocate(n uintptr) unsafe.Pointer {
	for {
		b := h.findBlock(n)
		if b == nil {
			break
		}

		switch p, res := h.tryCarve(b, n); res {
		case carveOK:
			return p
		case carveUnfit:
			// b no longer fits n; findBlock will pass over it on the
			// next pass since it rereads fresh metadata.
			continue
		case carveExhausted:
			// b still looks like a fit but lost maxBlockRetries CAS
			// races in a row; stop contending and fall through to
			// mapping growth, per the retry protocol.
			h.config.trace("malloc: allocate(%d) exhausted %d block retries; growing", n, maxBlockRetries)
		}
		break
	}

	h.structuralAcquire()
	defer h.structuralRelease()

	// Re-check under the structural lock: a concurrent grow may have
	// already created room while this goroutine was searching.
	if b := h.findBlock(n); b != nil {
		if p, res := h.tryCarve(b, n); res == carveOK {
			return p
		}
	}

	p, err := h.grow(n)
	if err != nil {
		h.config.trace("malloc: allocate(%d) failed: %v", n, err)
		return nil
	}
	return p
}

type carveResult int

const (
	carveOK carveResult = iota
	carveUnfit
	carveExhausted
)

// tryCarve attempts to acquire b and carve n bytes from it, retrying
// the CAS up to maxBlockRetries times as long as b's cached free size
// still looks sufficient after each lost race. carveUnfit means a fresh
// read showed b no longer has room, so the caller's outer block search
// should simply continue; carveExhausted means b still looks sufficient
// but stayed contended for the full retry budget, so the caller should
// stop searching and fall through to mapping growth.
func (h *Heap) tryCarve(b *blockHeader, n uintptr) (p unsafe.Pointer, res carveResult) {
	for attempt := 0; attempt < maxBlockRetries; attempt++ {
		if !blockTryAcquire(b) {
			if !b.hasFreeSlot() || b.freeSize() < n {
				return nil, carveUnfit
			}
			shortWait()
			continue
		}

		if !b.hasFreeSlot() || !canCarve(b.freeSize(), n) {
			blockRelease(b)
			return nil, carveUnfit
		}
		p = b.carve(n)
		blockRelease(b)
		return p, carveOK
	}
	return nil, carveExhausted
}

// Free returns p's record to its block's free space. Double-free is
// undefined behavior on the fast path (a free record's owner is already
// the free sentinel, so the fast path's own rec.block() would
// dereference a nil *blockHeader) but Config.Debug catches it with an
// ErrCorrupt panic before that dereference happens, since rec.free()
// needs no owner dereference to answer.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	rec := headerFromPayload(p)
	if h.config.Debug && rec.free() {
		panic(&ErrCorrupt{Msg: "double free", Arg: p})
	}
	b := rec.block()

	blockAcquire(b)
	b.assertRecordInBlock(h.config.Debug, rec)
	rec.markFree(rec.size)
	b.compact()
	blockRelease(b)
}

// ZeroAlloc allocates n*m zeroed bytes, rejecting combinations whose
// significant-bit counts together reach the word width before the
// product can overflow, then allocates and zeros that many bytes.
func (h *Heap) ZeroAlloc(n, m uintptr) unsafe.Pointer {
	total, ok := checkedMul(n, m)
	if !ok {
		h.config.trace("malloc: %v", &ErrOverflow{N: n, M: m})
		return nil
	}

	p := h.Allocate(total)
	if p == nil {
		return nil
	}
	zeroBytes(p, total)
	return p
}

// checkedMul reports n*m and whether the product is representable
// without wrapping a uintptr: if n and m's bit-lengths sum to at least
// wordBits, the product may not fit, so it is rejected outright rather
// than computed and compared after the fact.
func checkedMul(n, m uintptr) (uintptr, bool) {
	if n == 0 || m == 0 {
		return 0, true
	}
	if bits.Len64(uint64(n))+bits.Len64(uint64(m)) >= wordBits {
		return 0, false
	}
	return n * m, true
}

// zeroBytes clears n bytes starting at p. The production Mapper
// already hands back zeroed pages, so this only does real work for
// payloads that reuse a freed (previously written) record - simplest
// to always cover unconditionally rather than track which records have
// been written to.
func zeroBytes(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}

// Resize changes p's record to newSize in place when there's room to
// shrink or to absorb a following free record, and otherwise falls back
// to allocate-copy-free.
func (h *Heap) Resize(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	rec := headerFromPayload(p)
	b := rec.block()

	blockAcquire(b)
	old := rec.size

	if newSize <= old {
		b.shrink(rec, newSize)
		blockRelease(b)
		return p
	}

	if avail, ok := b.followingFreeBytes(rec); ok && canGrowInto(avail, newSize-old) {
		b.growInto(rec, newSize)
		blockRelease(b)
		return p
	}
	blockRelease(b)

	fresh := h.Allocate(newSize)
	if fresh == nil {
		return nil
	}
	copyBytes(fresh, p, old)
	h.Free(p)
	return fresh
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
