// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Block headers, carving, and compaction.

package malloc

import (
	"sync/atomic"
	"unsafe"
)

// blockHeader heads a block: a region inside a mapping holding a
// sequence of allocation records. It caches the offset and size of the
// single largest free record so find-a-fit can read one field instead
// of walking the record list.
type blockHeader struct {
	largestFreeSize uintptr        // payload bytes; 0 when the block is full
	largestFreePtr  unsafe.Pointer // *recordHeader, or nil iff largestFreeSize == 0
	totalSize       uintptr        // header through the last record's payload, inclusive
	next            unsafe.Pointer // *blockHeader, or nil
	lock            uint32         // spinlock state: lockFree / lockInUse
}

const blockHeaderSize = unsafe.Sizeof(blockHeader{})

func blockAt(p unsafe.Pointer) *blockHeader { return (*blockHeader)(p) }

// end returns the address one past b's last record's payload.
func (b *blockHeader) end() uintptr {
	return uintptr(unsafe.Pointer(b)) + b.totalSize
}

// firstRecord returns b's first record header. A block always has at
// least one record, even if it is a single free one spanning the whole
// block.
func (b *blockHeader) firstRecord() *recordHeader {
	return recordAt(unsafe.Pointer(uintptr(unsafe.Pointer(b)) + blockHeaderSize))
}

func (b *blockHeader) nextBlock() *blockHeader {
	return blockAt(atomic.LoadPointer(&b.next))
}

func (b *blockHeader) setNext(n *blockHeader) {
	atomic.StorePointer(&b.next, unsafe.Pointer(n))
}

// freeSize is the lock-free read findBlock uses to evaluate candidate
// fits: an atomic load of the cached largest-free size, good enough to
// screen candidates before taking the block lock and rechecking.
func (b *blockHeader) freeSize() uintptr {
	return uintptr(atomic.LoadUintptr((*uintptr)(unsafe.Pointer(&b.largestFreeSize))))
}

// hasFreeSlot reports whether b currently has any free record at all,
// including a zero-size one, which largestFreeSize alone cannot tell
// apart from none (both read 0). A block whose largestFreePtr is nil
// has no free slot to carve from even for an Allocate(0): a zero-size
// request against a fully-used block must still fail rather than carve
// from a record that doesn't exist.
func (b *blockHeader) hasFreeSlot() bool {
	return atomic.LoadPointer(&b.largestFreePtr) != nil
}

// canCarve reports whether a free record of freeSize payload bytes can
// be split to serve a request of n bytes without leaving a remainder
// too small to hold its own record header. n <= freeSize alone isn't
// enough: splitting when 0 < freeSize-n < a header's width would write
// a trailing header into space that doesn't exist, corrupting every
// later record walk in the block. A block whose only large-enough free
// record fails this check is correctly treated as not fitting.
func canCarve(freeSize, n uintptr) bool {
	if n > freeSize {
		return false
	}
	return freeSize == n || freeSize-n >= recordHeaderSize
}

// assertRecordInBlock is Config.Debug's second invariant check in Free,
// run after the double-free sentinel check has already passed: it
// confirms rec's address actually falls inside b's record region before
// the record is mutated. A record whose owner pointer has been
// corrupted, or a caller passing a stray pointer into unrelated memory
// that happens to decode as a live-looking owner, fails this check.
func (b *blockHeader) assertRecordInBlock(debug bool, rec *recordHeader) {
	if !debug {
		return
	}
	addr := uintptr(unsafe.Pointer(rec))
	if addr < uintptr(unsafe.Pointer(b.firstRecord())) || addr >= b.end() {
		panic(&ErrCorrupt{Msg: "record address outside its owning block", Arg: addr})
	}
}

// createBlock writes a fresh block header at where, sized sz bytes, with
// a single trailing free record occupying all remaining space. No
// locking is required: where is either freshly mapped (unreachable to
// other goroutines) or reserve space guarded by the Heap's structural
// lock.
func createBlock(where unsafe.Pointer, sz uintptr) *blockHeader {
	b := blockAt(where)
	*b = blockHeader{totalSize: sz}

	rec := b.firstRecord()
	recSize := sz - uintptr(blockHeaderSize) - recordHeaderSize
	rec.markFree(recSize)

	b.largestFreeSize = recSize
	b.largestFreePtr = unsafe.Pointer(rec)
	return b
}

// carve splits b's cached largest-free record to serve n payload bytes
// and returns the new record's payload address. The caller must hold
// b's lock and must have already established canCarve(b.freeSize(), n).
func (b *blockHeader) carve(n uintptr) unsafe.Pointer {
	slot := recordAt(b.largestFreePtr)
	free := slot.size
	slot.markUsed(b, n)

	if free > n {
		remaining := free - n - recordHeaderSize
		newAddr := uintptr(unsafe.Pointer(slot)) + recordHeaderSize + n
		recordAt(unsafe.Pointer(newAddr)).markFree(remaining)
	}

	b.compact()
	return slot.payload()
}

// compact restores the block's record-walk and largest-free-cache
// invariants after a single carve or free. Pass one merges every run of
// adjacent free records into one (at most a handful can ever be
// adjacent just before a single mutation, but the loop handles any run
// length uniformly); pass two finds the largest free record, picking
// the lowest address on ties via strict greater-than. Both passes visit
// at most the number of records in the block.
func (b *blockHeader) compact() {
	end := b.end()

	cur := uintptr(unsafe.Pointer(b.firstRecord()))
	for cur < end {
		rec := recordAt(unsafe.Pointer(cur))
		if !rec.free() {
			cur += recordHeaderSize + rec.size
			continue
		}
		for {
			nextAddr := cur + recordHeaderSize + rec.size
			if nextAddr >= end {
				break
			}
			nxt := recordAt(unsafe.Pointer(nextAddr))
			if !nxt.free() {
				break
			}
			rec.size += recordHeaderSize + nxt.size
		}
		cur += recordHeaderSize + rec.size
	}

	var maxAddr, maxSize uintptr
	found := false
	cur = uintptr(unsafe.Pointer(b.firstRecord()))
	for cur < end {
		rec := recordAt(unsafe.Pointer(cur))
		if rec.free() && (!found || rec.size > maxSize) {
			maxAddr, maxSize, found = cur, rec.size, true
		}
		cur += recordHeaderSize + rec.size
	}

	if !found {
		b.largestFreeSize = 0
		b.largestFreePtr = nil
		return
	}
	b.largestFreeSize = maxSize
	b.largestFreePtr = unsafe.Pointer(maxAddr)
}

// shrink implements Resize's in-place shrink path: rec's size is
// reduced to newSize and the reclaimed delta bytes become a new free
// record in the gap between rec and whatever came after it (another
// record, in use or free, or simply the block's end). The following
// record, if any, is never touched: its header is never relocated and
// its back-pointer is never rewritten, because a caller may already
// hold a payload pointer derived from its current header position, and
// there is no way to move that header without invalidating that
// pointer. If the following record happens to already be free, compact
// (below) coalesces the new gap record into it exactly as it would any
// other two adjacent frees - which is what gives a shrink next to a
// free neighbor the effect of "expanding" that neighbor, without this
// function needing to special-case it.
//
// If delta is narrower than one record header, there is no room to
// write a valid gap record, so the shrink is skipped and rec keeps its
// old size: Resize only needs to return the same address on a shrink,
// not reclaim every byte of slack.
func (b *blockHeader) shrink(rec *recordHeader, newSize uintptr) {
	old := rec.size
	delta := old - newSize
	if delta == 0 {
		return
	}
	if delta < recordHeaderSize {
		return
	}

	rec.size = newSize
	gapAddr := uintptr(unsafe.Pointer(rec)) + recordHeaderSize + newSize
	recordAt(unsafe.Pointer(gapAddr)).markFree(delta - recordHeaderSize)

	b.compact()
}

// growInto implements Resize's grow-by-absorbing-the-follower path: the
// following free record's header is shifted forward, growing rec's
// size to newSize. Caller must have already established
// canGrowInto(avail, newSize-rec.size) against the avail
// followingFreeBytes(rec) reported, so the remainder either vanishes
// entirely (rec absorbs the follower's header too) or is wide enough to hold its own header - the same
// reasoning canCarve applies to carving a remainder too narrow to walk.
func (b *blockHeader) growInto(rec *recordHeader, newSize uintptr) {
	old := rec.size
	delta := newSize - old

	followingAddr := uintptr(unsafe.Pointer(rec)) + recordHeaderSize + old
	following := recordAt(unsafe.Pointer(followingAddr))
	avail := recordHeaderSize + following.size

	rec.size = newSize
	if delta < avail {
		remaining := following.size - delta
		newFollowingAddr := uintptr(unsafe.Pointer(rec)) + recordHeaderSize + newSize
		recordAt(unsafe.Pointer(newFollowingAddr)).markFree(remaining)
	}
	// delta == avail: the follower's header and payload are both
	// absorbed; whatever lies past it (another record, or the block's
	// end) is now rec's immediate successor with no header of its own
	// to write.

	b.compact()
}

// canGrowInto reports whether delta bytes of a following free record's
// avail = header+payload span can be absorbed by growInto without
// leaving a remainder too narrow to hold its own header - the same
// reasoning as canCarve, applied to Resize's grow path.
func canGrowInto(avail, delta uintptr) bool {
	if delta > avail {
		return false
	}
	return delta == avail || avail-delta >= recordHeaderSize
}

// followingFreeBytes reports the total bytes (header + payload)
// available to absorb starting at the record immediately following
// rec, if and only if that record exists within b and is free. Used by
// Resize to test whether there's enough of a free follower to grow
// into. rec being b's last record reports ok == false: there is
// nothing after it to absorb.
func (b *blockHeader) followingFreeBytes(rec *recordHeader) (avail uintptr, ok bool) {
	followingAddr := uintptr(unsafe.Pointer(rec)) + recordHeaderSize + rec.size
	if followingAddr >= b.end() {
		return 0, false
	}
	following := recordAt(unsafe.Pointer(followingAddr))
	if !following.free() {
		return 0, false
	}
	return recordHeaderSize + following.size, true
}
