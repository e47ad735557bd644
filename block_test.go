// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package malloc

import (
	"testing"
	"unsafe"
)

func newTestBlock(t *testing.T, sz uintptr) *blockHeader {
	t.Helper()
	buf := make([]byte, sz)
	return createBlock(unsafe.Pointer(&buf[0]), sz)
}

func TestCreateBlockSingleTrailingFreeRecord(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 200
	b := newTestBlock(t, sz)

	if b.totalSize != sz {
		t.Fatalf("totalSize = %d, want %d", b.totalSize, sz)
	}
	if got, want := b.freeSize(), uintptr(200); got != want {
		t.Fatalf("freeSize() = %d, want %d", got, want)
	}
	if !b.firstRecord().free() {
		t.Fatal("first record not free after createBlock")
	}
}

func TestCanCarve(t *testing.T) {
	cases := []struct {
		free, n uintptr
		want    bool
	}{
		{100, 100, true},                               // exact fit
		{100, 101, false},                               // too big
		{100, 100 - recordHeaderSize, true},              // leaves exactly one header
		{100, 100 - recordHeaderSize + 1, false},         // leaves less than one header
	}
	for _, c := range cases {
		if got := canCarve(c.free, c.n); got != c.want {
			t.Errorf("canCarve(%d, %d) = %v, want %v", c.free, c.n, got, c.want)
		}
	}
}

func TestCarveSplitsAndUpdatesCache(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 200
	b := newTestBlock(t, sz)

	p := b.carve(40)
	rec := headerFromPayload(p)
	if rec.size != 40 {
		t.Fatalf("carved record size = %d, want 40", rec.size)
	}
	if rec.free() {
		t.Fatal("carved record still marked free")
	}
	if rec.block() != b {
		t.Fatalf("carved record owner = %p, want %p", rec.block(), b)
	}

	wantFree := uintptr(200) - 40 - recordHeaderSize
	if got := b.freeSize(); got != wantFree {
		t.Fatalf("freeSize() after carve = %d, want %d", got, wantFree)
	}
}

func TestCarveExactFitLeavesNoRemainder(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 64
	b := newTestBlock(t, sz)

	p := b.carve(64)
	rec := headerFromPayload(p)
	if rec.size != 64 {
		t.Fatalf("size = %d, want 64", rec.size)
	}
	if got := b.freeSize(); got != 0 {
		t.Fatalf("freeSize() after exact carve = %d, want 0", got)
	}
	if b.hasFreeSlot() {
		t.Fatal("hasFreeSlot() true after a block was carved down to nothing free")
	}
}

func TestCompactMergesAdjacentFrees(t *testing.T) {
	// Three records: free(30), free(20), used(10), inside one block.
	payload := 3*recordHeaderSize + 30 + 20 + 10
	sz := blockHeaderSize + payload
	b := newTestBlock(t, sz)

	r1 := b.firstRecord()
	r1.markFree(30)
	r2 := recordAt(unsafe.Pointer(uintptr(unsafe.Pointer(r1)) + recordHeaderSize + 30))
	r2.markFree(20)
	r3 := recordAt(unsafe.Pointer(uintptr(unsafe.Pointer(r2)) + recordHeaderSize + 20))
	r3.markUsed(b, 10)

	b.compact()

	if !r1.free() {
		t.Fatal("merged record should remain free")
	}
	if want := uintptr(30 + recordHeaderSize + 20); r1.size != want {
		t.Fatalf("merged size = %d, want %d", r1.size, want)
	}
	if got, want := b.freeSize(), r1.size; got != want {
		t.Fatalf("largestFreeSize = %d, want %d", got, want)
	}
	if b.largestFreePtr != unsafe.Pointer(r1) {
		t.Fatal("largestFreePtr does not point at the merged record")
	}
}

func TestCompactTieBreaksOnLowestAddress(t *testing.T) {
	// Two equal-size free records, kept apart by a used one so compact
	// cannot merge them; the earlier one must win.
	payload := 3*recordHeaderSize + 40 + 8 + 40
	sz := blockHeaderSize + payload
	b := newTestBlock(t, sz)

	r1 := b.firstRecord()
	r1.markFree(40)
	r2 := recordAt(unsafe.Pointer(uintptr(unsafe.Pointer(r1)) + recordHeaderSize + 40))
	r2.markUsed(b, 8)
	r3 := recordAt(unsafe.Pointer(uintptr(unsafe.Pointer(r2)) + recordHeaderSize + 8))
	r3.markFree(40)

	b.compact()

	if b.largestFreePtr != unsafe.Pointer(r1) {
		t.Fatal("tie-break did not pick the lower address")
	}
}

func TestShrinkLastRecordSynthesizesTrailer(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 100
	b := newTestBlock(t, sz)

	p := b.carve(100) // exact fit, no trailing record left
	rec := headerFromPayload(p)

	b.shrink(rec, 40)

	if rec.size != 40 {
		t.Fatalf("rec.size = %d, want 40", rec.size)
	}
	wantFree := uintptr(100-40) - recordHeaderSize
	if got := b.freeSize(); got != wantFree {
		t.Fatalf("freeSize() after shrinking the last record = %d, want %d", got, wantFree)
	}
}

func TestShrinkLastRecordNoRoomForHeaderIsNoOp(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 100
	b := newTestBlock(t, sz)

	p := b.carve(100)
	rec := headerFromPayload(p)

	b.shrink(rec, 100-recordHeaderSize+1) // delta < recordHeaderSize
	if rec.size != 100 {
		t.Fatalf("rec.size = %d, want unchanged 100", rec.size)
	}
	if b.hasFreeSlot() {
		t.Fatal("no-op shrink must not fabricate a free slot")
	}
}

func TestShrinkFoldsIntoFollowingFreeRecord(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 100
	b := newTestBlock(t, sz)

	p := b.carve(50) // leaves a trailing free record of 50-recordHeaderSize
	rec := headerFromPayload(p)

	b.shrink(rec, 10)
	if rec.size != 10 {
		t.Fatalf("rec.size = %d, want 10", rec.size)
	}

	want := (50 - recordHeaderSize) + (50 - 10)
	if got := b.freeSize(); got != want {
		t.Fatalf("freeSize() = %d, want %d", got, want)
	}
}

func TestFollowingFreeBytesLastRecord(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 64
	b := newTestBlock(t, sz)

	p := b.carve(64)
	rec := headerFromPayload(p)

	if _, ok := b.followingFreeBytes(rec); ok {
		t.Fatal("followingFreeBytes should report false for a block's last record")
	}
}

func TestGrowIntoAbsorbsFollower(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 100
	b := newTestBlock(t, sz)

	p := b.carve(20)
	rec := headerFromPayload(p)

	avail, ok := b.followingFreeBytes(rec)
	if !ok {
		t.Fatal("expected a free follower")
	}

	b.growInto(rec, 20+avail)
	if rec.size != 20+avail {
		t.Fatalf("rec.size = %d, want %d", rec.size, 20+avail)
	}
	if b.hasFreeSlot() {
		t.Fatal("absorbing the entire follower should leave no free slot")
	}
}

func TestGrowIntoPartialFollowerLeavesRemainder(t *testing.T) {
	sz := blockHeaderSize + recordHeaderSize + 100
	b := newTestBlock(t, sz)

	p := b.carve(20)
	rec := headerFromPayload(p)

	avail, ok := b.followingFreeBytes(rec)
	if !ok {
		t.Fatal("expected a free follower")
	}

	grow := avail - recordHeaderSize // leaves exactly one header of remainder
	b.growInto(rec, 20+grow)

	if rec.size != 20+grow {
		t.Fatalf("rec.size = %d, want %d", rec.size, 20+grow)
	}
	if got := b.freeSize(); got != 0 {
		t.Fatalf("freeSize() = %d, want 0 (remainder record has zero payload)", got)
	}
	if !b.hasFreeSlot() {
		t.Fatal("a zero-size trailing free record is still a free slot")
	}
}

func TestCanGrowIntoMirrorsCanCarve(t *testing.T) {
	cases := []struct {
		avail, delta uintptr
		want         bool
	}{
		{100, 100, true},
		{100, 101, false},
		{100, 100 - recordHeaderSize, true},
		{100, 100 - recordHeaderSize + 1, false},
	}
	for _, c := range cases {
		if got := canGrowInto(c.avail, c.delta); got != c.want {
			t.Errorf("canGrowInto(%d, %d) = %v, want %v", c.avail, c.delta, got, c.want)
		}
	}
}
