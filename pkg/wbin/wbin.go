// Package wbin collects the big-endian load/store helpers used across
// every on-disk structure in this module. Wii/GameCube disc structures
// are entirely big-endian; only the CISO container (pkg/container) is
// little-endian, and it uses encoding/binary directly since it is a
// single, already-simple header.
package wbin

import "encoding/binary"

// U16 reads a big-endian uint16 at offset off.
func U16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off : off+2])
}

// U32 reads a big-endian uint32 at offset off.
func U32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

// U64 reads a big-endian uint64 at offset off.
func U64(b []byte, off int) uint64 {
	return binary.BigEndian.Uint64(b[off : off+8])
}

// PutU16 writes v as big-endian at offset off.
func PutU16(b []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(b[off:off+2], v)
}

// PutU32 writes v as big-endian at offset off.
func PutU32(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes v as big-endian at offset off.
func PutU64(b []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(b[off:off+8], v)
}

// Off4 reads a big-endian uint32 at off and multiplies it by 4, the
// "offset divided by 4" convention used throughout the disc and
// partition header layouts.
func Off4(b []byte, off int) int64 {
	return int64(U32(b, off)) * 4
}

// PutOff4 writes v/4 as a big-endian uint32 at off. v must already be
// 4-byte aligned; callers are expected to have validated this.
func PutOff4(b []byte, off int, v int64) {
	PutU32(b, off, uint32(v/4))
}

// AlignUp rounds n up to the next multiple of align, which must be a
// power of two.
func AlignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// AlignDown rounds n down to the previous multiple of align, which
// must be a power of two.
func AlignDown(n, align int64) int64 {
	return n &^ (align - 1)
}

// IsPow2 reports whether n is a power of two.
func IsPow2(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
