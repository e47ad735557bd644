// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package malloc

import "time"

// defaultMinMappingBytes is the lower bound on OS mapping size: every
// mapping this Heap requests is at least this big, however small the
// triggering allocation is.
const defaultMinMappingBytes = 1 << 20 // 1 MiB

// defaultLongWait is the structural-lock back-off sleep duration.
const defaultLongWait = 2 * time.Microsecond

// maxBlockRetries bounds the allocate path's CAS-retry loop on a single
// block before it gives up contending on that block and falls through
// to mapping growth instead.
const maxBlockRetries = 64

// Config amends the behavior of NewHeap. Its zero value is ready to
// use and yields the documented defaults - in the style of dbm.Options,
// introducing new fields here remains backward compatible as long as
// callers use field names in their struct literals.
type Config struct {
	// MinMappingBytes is the lower bound on the size of any mapping
	// requested from the operating system. Zero means
	// defaultMinMappingBytes.
	MinMappingBytes int64

	// LongWait is the sleep duration used by structural-lock back-off.
	// Zero means defaultLongWait.
	LongWait time.Duration

	// Trace, if non-nil, is called with a printf-style format and args
	// at points useful for debugging (mapping/block creation, retry
	// exhaustion). It is never called on the fast, uncontended path
	// and is nil (a no-op) by default.
	Trace func(format string, args ...interface{})

	// Mapper overrides the OS mapping primitive. Tests use this to
	// substitute a Go-heap-backed Mapper so they don't need real
	// address space for small scenarios. Nil means newOSMapper().
	Mapper Mapper

	// Debug enables Free's invariant assertions: a double-free of an
	// already-free record, or a record whose address doesn't actually
	// lie within the block its owner pointer names, panics with
	// ErrCorrupt instead of corrupting the heap silently. Off by
	// default, since the fast path shouldn't pay for these checks.
	Debug bool
}

func (c Config) minMappingBytes() int64 {
	if c.MinMappingBytes > 0 {
		return c.MinMappingBytes
	}
	return defaultMinMappingBytes
}

func (c Config) longWait() time.Duration {
	if c.LongWait > 0 {
		return c.LongWait
	}
	return defaultLongWait
}

func (c Config) trace(format string, args ...interface{}) {
	if c.Trace != nil {
		c.Trace(format, args...)
	}
}
