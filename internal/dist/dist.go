// Package dist implements the distribution and locator component (C4): it
// maps a global index to an owning process and decomposes a patch into a
// list of per-owner sub-rectangles. All functions take the replicated
// fields of a descriptor (NDim, Dims, NBlock, MapC, Scale) directly rather
// than the full descr.Descriptor so they can be exercised against
// synthetic distributions in tests without constructing a live array.
package dist

import (
	"math/rand"

	"github.com/pgas/ga/internal/descr"
)

// Shape carries the replicated distribution metadata locate/decompose
// operate on.
type Shape struct {
	NDim   int
	Dims   [descr.MaxDim]int64
	NBlock [descr.MaxDim]int64
	MapC   [descr.MaxDim][]int64
	Scale  [descr.MaxDim]float64
}

// FromDescriptor extracts a Shape view of a descriptor.
func FromDescriptor(d *descr.Descriptor) Shape {
	return Shape{NDim: d.NDim, Dims: d.Dims, NBlock: d.NBlock, MapC: d.MapC, Scale: d.Scale}
}

// Regular computes a balanced nblock[]/mapc[] distribution for dims[] over
// nprocs processes. chunkHint[d] > 0 forces that dimension's block size;
// remaining dimensions share the leftover process budget, each factored to
// keep blocks as close to square (balanced) as the hints allow.
//
// This is the helper spec.md's §9 refers to by description only ("see §9")
// without a body; it reproduces the original Global Arrays distribution
// heuristic (greedy bin-packing over the per-dimension block-count search,
// not a generic integer factorization library) rather than copying the
// original C, which this module does not translate.
func Regular(ndim int, dims [descr.MaxDim]int64, chunkHint [descr.MaxDim]int64, nprocs int) Shape {
	var nblock [descr.MaxDim]int64
	budget := int64(nprocs)

	// Forced dimensions first: nblock[d] = ceil(dims[d]/chunkHint[d]).
	for d := 0; d < ndim; d++ {
		if chunkHint[d] > 0 {
			nb := ceilDiv(dims[d], chunkHint[d])
			if nb < 1 {
				nb = 1
			}
			nblock[d] = nb
		}
	}
	for d := 0; d < ndim; d++ {
		if nblock[d] > 0 {
			budget /= nblock[d]
			if budget < 1 {
				budget = 1
			}
		}
	}

	// Remaining dimensions: greedily hand out factors of the remaining
	// budget to whichever unforced dimension currently has the largest
	// per-block extent, shrinking that dimension's effective block size
	// each round. This balances blocks without requiring nprocs to be a
	// perfect power of ndim.
	remaining := budget
	for remaining > 1 {
		// f is the largest prime factor of remaining: strip smaller prime
		// factors until only the largest is left.
		f := remaining
		for p := int64(2); p*p <= f; {
			if f%p == 0 {
				f /= p
			} else {
				p++
			}
		}
		bestD, bestExtent := -1, int64(-1)
		for d := 0; d < ndim; d++ {
			if chunkHint[d] > 0 {
				continue
			}
			nb := nblock[d]
			if nb == 0 {
				nb = 1
			}
			extent := ceilDiv(dims[d], nb)
			if nb*f > dims[d] {
				continue // splitting by f would exceed the extent
			}
			if extent > bestExtent {
				bestExtent, bestD = extent, d
			}
		}
		if bestD < 0 {
			break // no unforced dimension can take another factor
		}
		if nblock[bestD] == 0 {
			nblock[bestD] = 1
		}
		nblock[bestD] *= f
		remaining /= f
	}
	for d := 0; d < ndim; d++ {
		if nblock[d] == 0 {
			nblock[d] = 1
		}
		if nblock[d] > dims[d] {
			nblock[d] = dims[d]
		}
	}

	var mapc [descr.MaxDim][]int64
	var scale [descr.MaxDim]float64
	for d := 0; d < ndim; d++ {
		blk := ceilDiv(dims[d], nblock[d])
		starts := make([]int64, 0, nblock[d])
		for s := int64(1); s <= dims[d]; s += blk {
			starts = append(starts, s)
		}
		mapc[d] = starts
		nblock[d] = int64(len(starts))
		scale[d] = float64(nblock[d]) / float64(dims[d])
	}

	return Shape{NDim: ndim, Dims: dims, NBlock: nblock, MapC: mapc, Scale: scale}
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// LocateBlock finds the block b such that mapc[b] <= idx < mapc[b+1] (the
// upper bound for the last block is dims+1), seeding the search from
// floor(scale*idx) and walking up or down. Expected O(1) for near-uniform
// distributions, O(len(mapc)) worst case.
func LocateBlock(mapc []int64, dimSize int64, scale float64, idx int64) (block int, ok bool) {
	if idx < 1 || idx > dimSize || len(mapc) == 0 {
		return 0, false
	}
	n := len(mapc)
	cand := int(scale * float64(idx))
	if cand < 0 {
		cand = 0
	}
	if cand >= n {
		cand = n - 1
	}
	upper := func(b int) int64 {
		if b+1 < n {
			return mapc[b+1]
		}
		return dimSize + 1
	}
	for cand > 0 && mapc[cand] > idx {
		cand--
	}
	for cand < n-1 && upper(cand) <= idx {
		cand++
	}
	if mapc[cand] <= idx && idx < upper(cand) {
		return cand, true
	}
	return 0, false
}

// LocateOwnerBlocks finds the per-dimension block coordinates owning the
// coordinate idx[0:ndim]. Returns ok=false (leaving coords untouched) if
// any idx[d] is out of [1, dims[d]].
func LocateOwnerBlocks(s Shape, idx [descr.MaxDim]int64) (coords [descr.MaxDim]int64, ok bool) {
	for d := 0; d < s.NDim; d++ {
		b, found := LocateBlock(s.MapC[d], s.Dims[d], s.Scale[d], idx[d])
		if !found {
			return [descr.MaxDim]int64{}, false
		}
		coords[d] = int64(b)
	}
	return coords, true
}

// LinearRank linearizes block coordinates column-major over nblock[] (the
// first dimension varies fastest), giving the owning logical rank before
// any process-list permutation is applied: rank = coords[0] +
// coords[1]*nblock[0] + coords[2]*nblock[0]*nblock[1] + …, matching
// original_source's nga_proc_topology_ inversion
// (`proc = subscript[0] + subscript[1]*nblock[0] + …`).
func LinearRank(s Shape, coords [descr.MaxDim]int64) int {
	rank := int64(0)
	for d := s.NDim - 1; d >= 0; d-- {
		rank = rank*s.NBlock[d] + coords[d]
	}
	return int(rank)
}

// BlockCoordsFromRank inverts LinearRank: given a logical rank, returns the
// block coordinates it owns, or ok=false if rank names no block (more
// processes than ∏nblock[d], so some processes own nothing). Column-major,
// matching original_source's nga_proc_topology_: subscript[d] = index %
// nblock[d]; index /= nblock[d], for d = 0…ndim-1.
func BlockCoordsFromRank(s Shape, rank int) (coords [descr.MaxDim]int64, ok bool) {
	total := int64(1)
	for d := 0; d < s.NDim; d++ {
		total *= s.NBlock[d]
	}
	if int64(rank) < 0 || int64(rank) >= total {
		return coords, false
	}
	r := int64(rank)
	for d := 0; d < s.NDim; d++ {
		coords[d] = r % s.NBlock[d]
		r /= s.NBlock[d]
	}
	return coords, true
}

// BlockBounds returns the inclusive [lo,hi] range owned by the block at
// coords, i.e. what that block's owning process would record as its own
// Lo/Chunk at creation time.
func BlockBounds(s Shape, coords [descr.MaxDim]int64) (lo, hi [descr.MaxDim]int64) {
	for d := 0; d < s.NDim; d++ {
		b := coords[d]
		lo[d] = s.MapC[d][b]
		if int(b)+1 < len(s.MapC[d]) {
			hi[d] = s.MapC[d][b+1] - 1
		} else {
			hi[d] = s.Dims[d]
		}
	}
	return lo, hi
}

// LocateOwner is the public locate(handle, subscript) operation: returns
// the owning logical rank for a single coordinate.
func LocateOwner(s Shape, idx [descr.MaxDim]int64) (owner int, ok bool) {
	coords, ok := LocateOwnerBlocks(s, idx)
	if !ok {
		return 0, false
	}
	return LinearRank(s, coords), true
}

// Rect is one (sub_lo, sub_hi, owner) intersection emitted by LocateRegion.
type Rect struct {
	Lo, Hi [descr.MaxDim]int64
	Owner  int
}

// LocateRegion decomposes the patch [lo,hi] into the ordered list of
// per-owner rectangles covering it. The ordering is deterministic and
// identical at every process (row-major iteration over the block
// rectangle), which the collective reasoning in the data model's
// invariants depends on.
func LocateRegion(s Shape, lo, hi [descr.MaxDim]int64) ([]Rect, error) {
	bLo, ok := LocateOwnerBlocks(s, lo)
	if !ok {
		return nil, errOutOfRange(lo, s)
	}
	bHi, ok := LocateOwnerBlocks(s, hi)
	if !ok {
		return nil, errOutOfRange(hi, s)
	}

	var rects []Rect
	var walk func(d int, coords [descr.MaxDim]int64)
	walk = func(d int, coords [descr.MaxDim]int64) {
		if d == s.NDim {
			blockLo, blockHi := BlockBounds(s, coords)
			var subLo, subHi [descr.MaxDim]int64
			for k := 0; k < s.NDim; k++ {
				subLo[k] = max64(lo[k], blockLo[k])
				subHi[k] = min64(hi[k], blockHi[k])
			}
			rects = append(rects, Rect{Lo: subLo, Hi: subHi, Owner: LinearRank(s, coords)})
			return
		}
		for b := bLo[d]; b <= bHi[d]; b++ {
			coords[d] = b
			walk(d+1, coords)
		}
	}
	var start [descr.MaxDim]int64
	walk(0, start)
	return rects, nil
}

func errOutOfRange(idx [descr.MaxDim]int64, s Shape) error {
	return &OutOfRangeError{Idx: idx, Dims: s.Dims, NDim: s.NDim}
}

// OutOfRangeError reports a coordinate outside [1, dims[d]] for some d.
type OutOfRangeError struct {
	Idx  [descr.MaxDim]int64
	Dims [descr.MaxDim]int64
	NDim int
}

func (e *OutOfRangeError) Error() string {
	return "coordinate out of range"
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Permute returns a copy of rects reordered by a per-process random
// permutation seeded from rank, desynchronizing hot-spot access when many
// peers simultaneously touch the same array (§4.4.4). The seed is
// deterministic per rank so tests remain reproducible.
func Permute(rects []Rect, rank int) []Rect {
	if len(rects) < 2 {
		return rects
	}
	out := make([]Rect, len(rects))
	copy(out, rects)
	r := rand.New(rand.NewSource(int64(rank)*2654435761 + 1))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
