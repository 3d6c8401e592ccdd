// Package mem implements the symmetric allocator's alignment contract
// (C2): given a raw per-process base returned by the transport's
// symmetric allocator, compute the byte adjustment that makes the aligned
// base a multiple of elem_size away from a reference "typed base" address,
// so foreign-language callers can address array elements by integer index
// into that typed base.
//
// The typed base itself belongs to the bulk-typed heap, an external
// collaborator named but not specified by §1 ("a minimal typed base
// address + allocate/pop interface"); TypedHeap below is that minimal
// interface plus the smallest implementation that exercises it.
package mem

import (
	"unsafe"

	"github.com/pgas/ga/internal/descr"
)

// TypedHeap is the minimal surface the bulk-typed heap collaborator must
// expose: one reference base address per element type.
type TypedHeap interface {
	Base(t descr.ElemType) unsafe.Pointer
}

// FixedHeap is the smallest TypedHeap: three preallocated arenas, one per
// element type, whose first element's address is the reference base.
// Real deployments would back this with the actual bulk heap; this stands
// in for it since that heap is out of this module's scope.
type FixedHeap struct {
	ints    []int64
	floats  []float64
	complexes []complex128
}

// NewFixedHeap allocates arenas of the given per-type capacity.
func NewFixedHeap(capacity int) *FixedHeap {
	if capacity < 1 {
		capacity = 1
	}
	return &FixedHeap{
		ints:      make([]int64, capacity),
		floats:    make([]float64, capacity),
		complexes: make([]complex128, capacity),
	}
}

func (h *FixedHeap) Base(t descr.ElemType) unsafe.Pointer {
	switch t {
	case descr.Int64:
		return unsafe.Pointer(&h.ints[0])
	case descr.Float64:
		return unsafe.Pointer(&h.floats[0])
	case descr.Complex128:
		return unsafe.Pointer(&h.complexes[0])
	default:
		return nil
	}
}

// Align computes the byte adjustment (§4.2) that must be added to rawPtr
// so that (rawPtr+adjust-typedBase) mod elemSize == 0. rawPtr is this
// process's own raw allocation base as returned by the transport's
// symmetric allocator; typedBase is the reference address from TypedHeap.
func Align(typedBase, rawPtr unsafe.Pointer, elemSize int) int {
	if elemSize <= 0 {
		return 0
	}
	diff := int(uintptr(rawPtr)-uintptr(typedBase)) % elemSize
	if diff < 0 {
		diff += elemSize
	}
	if diff == 0 {
		return 0
	}
	return elemSize - diff
}

// Adjusted returns rawPtr advanced by its own alignment adjustment.
func Adjusted(typedBase, rawPtr unsafe.Pointer, elemSize int) unsafe.Pointer {
	return unsafe.Add(rawPtr, Align(typedBase, rawPtr, elemSize))
}
