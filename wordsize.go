// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package malloc

// wordBits is the address word width of the target: 64 on 64-bit
// platforms, 32 on 32-bit ones. Computed once at compile time so no
// preprocessor-style branching on SIZE_MAX is needed (see the "source's
// compile-time word-size branching" note this repository replaces).
const wordBits = 32 << (^uint(0) >> 63)

// highBit is the single bit that must not be set in a block size (see
// mappingSize) or a ZeroAlloc product (see checkedMul) - requests that
// would need it are rejected rather than silently wrapping.
const highBit = uintptr(1) << (wordBits - 1)
