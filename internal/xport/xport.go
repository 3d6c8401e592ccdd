// Package xport is the transport adapter (C1): the abstract one-sided
// remote-memory capability set the access engine requires, plus a
// reference in-process implementation (Loopback) so the rest of the
// module is unit-testable without a real RDMA/ARMCI backend.
package xport

import (
	"unsafe"

	"github.com/pgas/ga/internal/descr"
)

// AccOp selects the numeric kind an accumulate or fetch-and-add operates
// on, derived from an array's element type.
type AccOp int

const (
	OpInt64 AccOp = iota
	OpFloat64
	OpComplex128
)

// OpFor derives the transport op code from an array's element type.
func OpFor(t descr.ElemType) AccOp {
	switch t {
	case descr.Int64:
		return OpInt64
	case descr.Float64:
		return OpFloat64
	case descr.Complex128:
		return OpComplex128
	default:
		return OpInt64
	}
}

// VectorPair is one (source, destination) element address pair for the
// list-of-pointers gather/scatter transfers.
type VectorPair struct {
	Src, Dst unsafe.Pointer
}

// VectorDesc describes a list-of-pointer-pairs transfer: Bytes is the
// per-element size, len(Pairs) is the count.
type VectorDesc struct {
	Pairs []VectorPair
	Bytes int
}

// Transport is the capability set the one-sided access engine requires.
// count[0] in *Strided calls is in bytes (the contiguous innermost run);
// higher dimensions are in elements, matching the strided transfer
// contract of §4.1.
type Transport interface {
	Rank() int
	NPeers() int

	// IsLocal reports whether target is "close" to this process, the
	// pluggable predicate §9's Open Question asks for in place of a
	// hard-coded proc/4==me/4 heuristic.
	IsLocal(target int) bool

	PutStrided(dst unsafe.Pointer, dstStride []int64, src unsafe.Pointer, srcStride []int64, count []int64, ndim int, target int) error
	GetStrided(dst unsafe.Pointer, dstStride []int64, src unsafe.Pointer, srcStride []int64, count []int64, ndim int, target int) error
	AccStrided(op AccOp, scale complex128, dst unsafe.Pointer, dstStride []int64, src unsafe.Pointer, srcStride []int64, count []int64, ndim int, target int) error

	PutVector(desc VectorDesc, target int) error
	GetVector(desc VectorDesc, target int) error
	AccVector(op AccOp, scale complex128, desc VectorDesc, target int) error

	FetchAndAdd(remote unsafe.Pointer, increment int64, target int) (old int64, err error)

	Fence(target int) error
	AllFence() error

	// SymmetricAlloc is collective: every peer calls it and every peer
	// receives the full, replicated array of per-peer bases. Unlike a
	// textbook symmetric allocator this implementation allows bytesLocal
	// to differ across peers, which is what create_irregular's per-process
	// chunk sizes require.
	SymmetricAlloc(bytesLocal int) ([]unsafe.Pointer, error)
	SymmetricFree(base unsafe.Pointer) error

	CreateMutexes(nLocal int) error
	DestroyMutexes() error
	Lock(localID int, target int) error
	Unlock(localID int, target int) error
}
