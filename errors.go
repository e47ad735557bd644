// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package malloc

import "fmt"

// ErrOOM reports that the operating system mapping primitive failed to
// provide new address space. It carries no allocator side effects - the
// Heap is left exactly as it was before the failed request.
type ErrOOM struct {
	Requested uintptr
	More      error
}

func (e *ErrOOM) Error() string {
	if e.More != nil {
		return fmt.Sprintf("malloc: out of memory requesting %d bytes: %v", e.Requested, e.More)
	}
	return fmt.Sprintf("malloc: out of memory requesting %d bytes", e.Requested)
}

// ErrOverflow reports that ZeroAlloc's n*m computation would overflow
// the address word. ZeroAlloc never returns it: it only hands it to
// Config.Trace and returns nil, and no OS call is made in that case.
type ErrOverflow struct {
	N, M uintptr
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("malloc: ZeroAlloc(%d, %d) overflows a %d-bit word", e.N, e.M, wordBits)
}

// ErrTooLarge reports that a single request's block size would need
// the address word's high bit set.
type ErrTooLarge struct {
	Requested uintptr
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("malloc: request of %d bytes exceeds the mappable limit", e.Requested)
}

// ErrCorrupt reports an invariant violation detected by a debug-mode
// Heap (Config.Debug). Production builds never return or check for
// this - per spec, double-free and similar misuse are undefined
// behavior on the fast path.
type ErrCorrupt struct {
	Msg string
	Arg interface{}
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("malloc: corrupt heap: %s (%v)", e.Msg, e.Arg)
}
