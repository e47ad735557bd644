// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package malloc implements a general purpose, concurrent heap allocator
over raw process address space.

Heap layout

A Heap obtains memory from the operating system in coarse mappings (see
Mapper) and subdivides each mapping into one or more blocks. A block
holds a sequence of allocation records and caches the offset and size of
its single largest free record, so that a candidate block for a request
of n bytes can be identified by reading one cached field, without
walking any record list. Mappings are linked into a singly linked list
rooted in a package-wide (or per-Heap) anchor; blocks are linked within
their owning mapping; records are walked by pointer arithmetic using
each record's stored size, never by an auxiliary index.

Concurrency

Two locks make up the whole hierarchy. A block lock (a per-block
spinlock) guards the record list and largest-free cache of exactly one
block and is held only for the duration of a single Allocate/Free/Resize
on that block. A structural lock, one per Heap, serializes mapping-list
growth and block-list appends to a mapping's reserve. A goroutine never
holds two block locks at once, and never requests the structural lock
while holding a block lock. The reverse order (structural, then block)
is taken only by Allocate's recheck of existing blocks after it has won
the structural lock; blocks created under that lock are unreachable to
other goroutines until it is released, so they are carved unlocked.

Allocation policy

Block search is first-fit: the mapping/block chain is walked in
creation order and the first block whose cached largest-free is big
enough is used. This keeps fragmentation low at the cost of longer
searches once many blocks are nearly full. No per-size free lists or
caches are kept - this is deliberately not a size-class/slab/bucket
allocator, not a buddy system, and does not return memory to the
operating system.

Using the package

The four operations are available both as package-level functions,
operating on a lazily initialized default Heap, and as methods on an
explicitly constructed *Heap:

	p := malloc.Allocate(64)
	defer malloc.Free(p)

	h := malloc.NewHeap(malloc.Config{})
	q := h.Allocate(128)
	defer h.Free(q)

*/
package malloc
