// Package access implements the one-sided access engine (C5): patch
// put/get/accumulate, irregular gather/scatter, fetch-and-add, and the
// local access window. Every operation decomposes its target range into
// per-owner rectangles or element addresses (internal/dist) and issues
// the resulting transfers through internal/xport.
package access

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/dist"
	"github.com/pgas/ga/internal/gaerr"
	"github.com/pgas/ga/internal/metrics"
	"github.com/pgas/ga/internal/xport"
)

// stridesFromChunk computes byte strides for a column-major layout (first
// dimension varies fastest) whose
// leading dimensions are given by extent (either a descriptor's owned
// Chunk, for a remote array's local storage, or a caller's src_ld, for a
// caller-supplied buffer): stride[0] = elemSize, stride[d] =
// stride[d-1]*extent[d-1].
func stridesFromChunk(extent [descr.MaxDim]int64, ndim int, elemSize int) [descr.MaxDim]int64 {
	var stride [descr.MaxDim]int64
	stride[0] = int64(elemSize)
	for d := 1; d < ndim; d++ {
		stride[d] = stride[d-1] * extent[d-1]
	}
	return stride
}

func toSlice(a [descr.MaxDim]int64, n int) []int64 {
	return append([]int64(nil), a[:n]...)
}

// ownerChunk returns the owning block's per-dimension extent, derived from
// mapc rather than from any peer's own stored Lo/Chunk (only the owner
// itself would have that; everyone else only replicates mapc/nblock).
func ownerChunk(shape dist.Shape, ndim int, ownerLo, ownerHi [descr.MaxDim]int64) [descr.MaxDim]int64 {
	var c [descr.MaxDim]int64
	for d := 0; d < ndim; d++ {
		c[d] = ownerHi[d] - ownerLo[d] + 1
	}
	return c
}

// elementRemotePtr resolves a single global coordinate to its byte address
// inside the owning peer's region, used by scatter/gather/read_inc.
func elementRemotePtr(d *descr.Descriptor, shape dist.Shape, owner int, sub [descr.MaxDim]int64) (unsafe.Pointer, error) {
	coords, ok := dist.LocateOwnerBlocks(shape, sub)
	if !ok {
		return nil, fmt.Errorf("coordinate out of range: %v", sub[:d.NDim])
	}
	ownerLo, ownerHi := dist.BlockBounds(shape, coords)
	chunk := ownerChunk(shape, d.NDim, ownerLo, ownerHi)
	stride := stridesFromChunk(chunk, d.NDim, d.ElemSize)
	var offset int64
	for k := 0; k < d.NDim; k++ {
		offset += (sub[k] - ownerLo[k]) * stride[k]
	}
	if d.BasePtr[owner] == nil {
		return nil, fmt.Errorf("owner %d holds no local storage", owner)
	}
	return unsafe.Add(d.BasePtr[owner], int(offset)), nil
}

// rectAddrs resolves one decomposed rectangle to its remote address and
// strides plus this rectangle's byte/element count vector.
func rectAddrs(d *descr.Descriptor, shape dist.Shape, rect dist.Rect) (remotePtr unsafe.Pointer, remoteStride [descr.MaxDim]int64, count []int64, err error) {
	coords, ok := dist.LocateOwnerBlocks(shape, rect.Lo)
	if !ok {
		return nil, remoteStride, nil, fmt.Errorf("coordinate out of range: %v", rect.Lo[:d.NDim])
	}
	ownerLo, ownerHi := dist.BlockBounds(shape, coords)
	chunk := ownerChunk(shape, d.NDim, ownerLo, ownerHi)
	remoteStride = stridesFromChunk(chunk, d.NDim, d.ElemSize)

	var offset int64
	for k := 0; k < d.NDim; k++ {
		offset += (rect.Lo[k] - ownerLo[k]) * remoteStride[k]
	}
	if d.BasePtr[rect.Owner] == nil {
		return nil, remoteStride, nil, fmt.Errorf("owner %d holds no local storage", rect.Owner)
	}
	remotePtr = unsafe.Add(d.BasePtr[rect.Owner], int(offset))

	count = make([]int64, d.NDim)
	count[0] = (rect.Hi[0] - rect.Lo[0] + 1) * int64(d.ElemSize)
	for k := 1; k < d.NDim; k++ {
		count[k] = rect.Hi[k] - rect.Lo[k] + 1
	}
	return remotePtr, remoteStride, count, nil
}

func countBytes(count []int64) int64 {
	n := count[0]
	for _, c := range count[1:] {
		n *= c
	}
	return n
}

// Put implements the patch put operation of §4.5.1. onWrite, if non-nil,
// is called once per owner actually written to, so the caller's fence
// bookkeeping (C7) can mark that target.
func Put(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, lo, hi [descr.MaxDim]int64, srcBuf unsafe.Pointer, srcLd [descr.MaxDim]int64, onWrite func(target int)) error {
	shape := dist.FromDescriptor(d)
	rects, err := dist.LocateRegion(shape, lo, hi)
	if err != nil {
		return gaerr.InvalidArgument("put", "patch out of range", lo[:d.NDim])
	}
	rects = dist.Permute(rects, xp.Rank())
	localStride := stridesFromChunk(srcLd, d.NDim, d.ElemSize)

	for _, rect := range rects {
		remotePtr, remoteStride, count, err := rectAddrs(d, shape, rect)
		if err != nil {
			return gaerr.Internal("put", err.Error(), rect.Owner)
		}
		var localOffset int64
		for k := 0; k < d.NDim; k++ {
			localOffset += (rect.Lo[k] - lo[k]) * localStride[k]
		}
		localPtr := unsafe.Add(srcBuf, int(localOffset))

		if err := xp.PutStrided(remotePtr, toSlice(remoteStride, d.NDim), localPtr, toSlice(localStride, d.NDim), count, d.NDim, rect.Owner); err != nil {
			return gaerr.Internal("put", "transport put_strided failed", rect.Owner)
		}
		if onWrite != nil {
			onWrite(rect.Owner)
		}
		if acct != nil {
			acct.OpsPut.Inc()
			nbytes := float64(countBytes(count))
			acct.BytesPut.Add(nbytes)
			// §9's Open Question: local-byte accounting uses the transport's
			// pluggable IsLocal predicate instead of a hard-coded proc/4==me/4
			// heuristic.
			if xp.IsLocal(rect.Owner) {
				acct.BytesPutLocal.Add(nbytes)
			}
		}
	}
	return nil
}

// Get implements the patch get operation of §4.5.2. Pure reads need no
// fence bookkeeping: get_strided is synchronous with respect to the local
// buffer.
func Get(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, lo, hi [descr.MaxDim]int64, dstBuf unsafe.Pointer, dstLd [descr.MaxDim]int64) error {
	shape := dist.FromDescriptor(d)
	rects, err := dist.LocateRegion(shape, lo, hi)
	if err != nil {
		return gaerr.InvalidArgument("get", "patch out of range", lo[:d.NDim])
	}
	rects = dist.Permute(rects, xp.Rank())
	localStride := stridesFromChunk(dstLd, d.NDim, d.ElemSize)

	for _, rect := range rects {
		remotePtr, remoteStride, count, err := rectAddrs(d, shape, rect)
		if err != nil {
			return gaerr.Internal("get", err.Error(), rect.Owner)
		}
		var localOffset int64
		for k := 0; k < d.NDim; k++ {
			localOffset += (rect.Lo[k] - lo[k]) * localStride[k]
		}
		localPtr := unsafe.Add(dstBuf, int(localOffset))

		if err := xp.GetStrided(localPtr, toSlice(localStride, d.NDim), remotePtr, toSlice(remoteStride, d.NDim), count, d.NDim, rect.Owner); err != nil {
			return gaerr.Internal("get", "transport get_strided failed", rect.Owner)
		}
		if acct != nil {
			acct.OpsGet.Inc()
			acct.BytesGet.Add(float64(countBytes(count)))
		}
	}
	return nil
}

// Acc implements the patch accumulate operation of §4.5.3: dst += alpha*src
// at every owner, atomic with respect to concurrent accumulates from other
// initiators.
func Acc(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, lo, hi [descr.MaxDim]int64, srcBuf unsafe.Pointer, srcLd [descr.MaxDim]int64, alpha complex128, onWrite func(target int)) error {
	shape := dist.FromDescriptor(d)
	rects, err := dist.LocateRegion(shape, lo, hi)
	if err != nil {
		return gaerr.InvalidArgument("acc", "patch out of range", lo[:d.NDim])
	}
	rects = dist.Permute(rects, xp.Rank())
	localStride := stridesFromChunk(srcLd, d.NDim, d.ElemSize)
	op := xport.OpFor(d.ElemType)

	for _, rect := range rects {
		remotePtr, remoteStride, count, err := rectAddrs(d, shape, rect)
		if err != nil {
			return gaerr.Internal("acc", err.Error(), rect.Owner)
		}
		var localOffset int64
		for k := 0; k < d.NDim; k++ {
			localOffset += (rect.Lo[k] - lo[k]) * localStride[k]
		}
		localPtr := unsafe.Add(srcBuf, int(localOffset))

		if err := xp.AccStrided(op, alpha, remotePtr, toSlice(remoteStride, d.NDim), localPtr, toSlice(localStride, d.NDim), count, d.NDim, rect.Owner); err != nil {
			return gaerr.Internal("acc", "transport acc_strided failed", rect.Owner)
		}
		if onWrite != nil {
			onWrite(rect.Owner)
		}
		if acct != nil {
			acct.OpsAcc.Inc()
			acct.BytesAcc.Add(float64(countBytes(count)))
		}
	}
	return nil
}

// sortByOwner builds the stable permutation list[] of §4.5.4 step 2: a
// stable sort by owner so entries hitting the same owner preserve the
// caller's original relative order (last-writer-wins for duplicate
// subscripts mirrors input order, not sort order).
func sortByOwner(owners []int) []int {
	list := make([]int, len(owners))
	for i := range list {
		list[i] = i
	}
	sort.SliceStable(list, func(i, j int) bool { return owners[list[i]] < owners[list[j]] })
	return list
}

func locateAll(shape dist.Shape, ndim int, subs [][descr.MaxDim]int64) ([]int, error) {
	owners := make([]int, len(subs))
	for k, sub := range subs {
		owner, ok := dist.LocateOwner(shape, sub)
		if !ok {
			return nil, fmt.Errorf("subscript %d out of range: %v", k, sub[:ndim])
		}
		owners[k] = owner
	}
	return owners, nil
}

// Scatter implements §4.5.4's scatter: values[k] is written to the element
// at subs[k].
func Scatter(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, values unsafe.Pointer, subs [][descr.MaxDim]int64, onWrite func(target int)) error {
	return scatterLike(d, xp, acct, values, subs, onWrite, func(tp xport.Transport, desc xport.VectorDesc, owner int) error {
		if err := tp.PutVector(desc, owner); err != nil {
			return err
		}
		if acct != nil {
			acct.OpsScatter.Inc()
			acct.BytesPut.Add(float64(len(desc.Pairs) * desc.Bytes))
		}
		return nil
	})
}

// ScatterAcc implements scatter_acc: values[k] is accumulated (dst += alpha*src)
// into the element at subs[k].
func ScatterAcc(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, values unsafe.Pointer, subs [][descr.MaxDim]int64, alpha complex128, onWrite func(target int)) error {
	op := xport.OpFor(d.ElemType)
	return scatterLike(d, xp, acct, values, subs, onWrite, func(tp xport.Transport, desc xport.VectorDesc, owner int) error {
		if err := tp.AccVector(op, alpha, desc, owner); err != nil {
			return err
		}
		if acct != nil {
			acct.OpsScatter.Inc()
			acct.BytesAcc.Add(float64(len(desc.Pairs) * desc.Bytes))
		}
		return nil
	})
}

func scatterLike(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, values unsafe.Pointer, subs [][descr.MaxDim]int64, onWrite func(target int), issue func(xport.Transport, xport.VectorDesc, int) error) error {
	nv := len(subs)
	if nv == 0 {
		return nil
	}
	shape := dist.FromDescriptor(d)
	owners, err := locateAll(shape, d.NDim, subs)
	if err != nil {
		return gaerr.InvalidArgument("scatter", err.Error(), nv)
	}
	list := sortByOwner(owners)

	i := 0
	for i < nv {
		owner := owners[list[i]]
		j := i
		var pairs []xport.VectorPair
		for j < nv && owners[list[j]] == owner {
			k := list[j]
			remotePtr, rerr := elementRemotePtr(d, shape, owner, subs[k])
			if rerr != nil {
				return gaerr.Internal("scatter", rerr.Error(), owner)
			}
			localPtr := unsafe.Add(values, k*d.ElemSize)
			pairs = append(pairs, xport.VectorPair{Src: localPtr, Dst: remotePtr})
			j++
		}
		if err := issue(xp, xport.VectorDesc{Pairs: pairs, Bytes: d.ElemSize}, owner); err != nil {
			return gaerr.Internal("scatter", "transport vector transfer failed", owner)
		}
		if onWrite != nil {
			onWrite(owner)
		}
		i = j
	}
	return nil
}

// Gather implements §4.5.4's gather: the inverse of scatter — values[k] is
// filled from the element at subs[k].
func Gather(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, values unsafe.Pointer, subs [][descr.MaxDim]int64) error {
	nv := len(subs)
	if nv == 0 {
		return nil
	}
	shape := dist.FromDescriptor(d)
	owners, err := locateAll(shape, d.NDim, subs)
	if err != nil {
		return gaerr.InvalidArgument("gather", err.Error(), nv)
	}
	list := sortByOwner(owners)

	i := 0
	for i < nv {
		owner := owners[list[i]]
		j := i
		var pairs []xport.VectorPair
		for j < nv && owners[list[j]] == owner {
			k := list[j]
			remotePtr, rerr := elementRemotePtr(d, shape, owner, subs[k])
			if rerr != nil {
				return gaerr.Internal("gather", rerr.Error(), owner)
			}
			localPtr := unsafe.Add(values, k*d.ElemSize)
			pairs = append(pairs, xport.VectorPair{Src: remotePtr, Dst: localPtr})
			j++
		}
		if err := xp.GetVector(xport.VectorDesc{Pairs: pairs, Bytes: d.ElemSize}, owner); err != nil {
			return gaerr.Internal("gather", "transport vector transfer failed", owner)
		}
		if acct != nil {
			acct.OpsGather.Inc()
			acct.BytesGet.Add(float64(len(pairs) * d.ElemSize))
		}
		i = j
	}
	return nil
}

// ReadInc implements §4.5.5's fetch-and-add: legal only on integer-typed
// arrays.
func ReadInc(d *descr.Descriptor, xp xport.Transport, acct *metrics.Accounting, sub [descr.MaxDim]int64, inc int64) (int64, error) {
	if !d.ElemType.IsInteger() {
		return 0, gaerr.Usage("read_inc", "array is not integer-typed", d.ElemType.String())
	}
	shape := dist.FromDescriptor(d)
	owner, ok := dist.LocateOwner(shape, sub)
	if !ok {
		return 0, gaerr.InvalidArgument("read_inc", "subscript out of range", sub[:d.NDim])
	}
	remotePtr, err := elementRemotePtr(d, shape, owner, sub)
	if err != nil {
		return 0, gaerr.Internal("read_inc", err.Error(), owner)
	}
	old, err := xp.FetchAndAdd(remotePtr, inc, owner)
	if err != nil {
		return 0, gaerr.Internal("read_inc", "transport fetch_and_add failed", owner)
	}
	if acct != nil {
		acct.OpsReadInc.Inc()
	}
	return old, nil
}

// Window is the direct local pointer + leading-dimension pair access()
// returns for a caller-owned patch.
type Window struct {
	Ptr unsafe.Pointer
	Ld  [descr.MaxDim]int64
}

// Access implements §4.5.6: a direct pointer to local storage for [lo,hi],
// legal only if the calling process (rank) owns every index in the patch.
// BasePtr is indexed by peer rank, so the caller's own rank selects its
// own base out of the replicated array, same as every remote lookup does
// for its target.
func Access(d *descr.Descriptor, rank int, lo, hi [descr.MaxDim]int64) (Window, error) {
	if !d.Owns() {
		return Window{}, gaerr.Usage("access", "process owns no part of this array", nil)
	}
	ownHi := d.Hi()
	for k := 0; k < d.NDim; k++ {
		if lo[k] < d.Lo[k] || hi[k] > ownHi[k] {
			return Window{}, gaerr.Usage("access", "patch not fully owned by calling process", [2][descr.MaxDim]int64{lo, hi})
		}
	}
	if rank < 0 || rank >= len(d.BasePtr) || d.BasePtr[rank] == nil {
		return Window{}, gaerr.Internal("access", "no local base pointer for calling process", rank)
	}
	var offset int64
	stride := stridesFromChunk(d.Chunk, d.NDim, d.ElemSize)
	for k := 0; k < d.NDim; k++ {
		offset += (lo[k] - d.Lo[k]) * stride[k]
	}
	return Window{Ptr: unsafe.Add(d.BasePtr[rank], int(offset)), Ld: d.Chunk}, nil
}

// Release is a no-op by contract (§4.5.6): included for symmetry with
// Access, since a future implementation may turn it into a borrow guard
// (§9 design note).
func Release(Window) {}

// FillLocal implements the local-only part of fill(handle, value) (§5,
// supplemented from original_source): writes value into every element of
// the calling process's (rank's) own owned patch. No transport call is
// needed because fill only ever touches local storage.
func FillLocal(d *descr.Descriptor, rank int, value unsafe.Pointer) error {
	if !d.Owns() {
		return nil // a process with no owned share has nothing to fill
	}
	if rank < 0 || rank >= len(d.BasePtr) || d.BasePtr[rank] == nil {
		return gaerr.Internal("fill", "no local base pointer for calling process", rank)
	}
	stride := stridesFromChunk(d.Chunk, d.NDim, d.ElemSize)
	base := d.BasePtr[rank]
	elemSize := d.ElemSize

	var walk func(dim int, offset int64)
	walk = func(dim int, offset int64) {
		if dim < 0 {
			copyBytesLocal(unsafe.Add(base, int(offset)), value, elemSize)
			return
		}
		for i := int64(0); i < d.Chunk[dim]; i++ {
			walk(dim-1, offset+i*stride[dim])
		}
	}
	walk(d.NDim-1, 0)
	return nil
}

func copyBytesLocal(dst, src unsafe.Pointer, n int) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

// ZeroLocal implements zero(handle): fill with the element type's zero
// value (§5, GA_Zero). The zero value's bit pattern is all-zero bytes for
// every element type this module supports, so it is simplest expressed as
// a memclr over the owned patch rather than routing through FillLocal with
// a materialized zero value.
func ZeroLocal(d *descr.Descriptor, rank int) error {
	if !d.Owns() {
		return nil
	}
	if rank < 0 || rank >= len(d.BasePtr) || d.BasePtr[rank] == nil {
		return gaerr.Internal("zero", "no local base pointer for calling process", rank)
	}
	var n int64 = int64(d.ElemSize)
	for k := 0; k < d.NDim; k++ {
		n *= d.Chunk[k]
	}
	if n <= 0 {
		return nil
	}
	buf := unsafe.Slice((*byte)(d.BasePtr[rank]), int(n))
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

// ScaleLocal implements scale(handle, alpha): multiplies every owned
// element in place by alpha (§5, GA_Scale), local-only like fill/zero.
func ScaleLocal(d *descr.Descriptor, rank int, alpha complex128) error {
	if !d.Owns() {
		return nil
	}
	if rank < 0 || rank >= len(d.BasePtr) || d.BasePtr[rank] == nil {
		return gaerr.Internal("scale", "no local base pointer for calling process", rank)
	}
	stride := stridesFromChunk(d.Chunk, d.NDim, d.ElemSize)
	base := d.BasePtr[rank]
	elemType := d.ElemType

	var walk func(dim int, offset int64)
	walk = func(dim int, offset int64) {
		if dim < 0 {
			ptr := unsafe.Add(base, int(offset))
			switch elemType {
			case descr.Int64:
				p := (*int64)(ptr)
				*p = int64(real(alpha)) * (*p)
			case descr.Float64:
				p := (*float64)(ptr)
				*p = real(alpha) * (*p)
			case descr.Complex128:
				p := (*complex128)(ptr)
				*p = alpha * (*p)
			}
			return
		}
		for i := int64(0); i < d.Chunk[dim]; i++ {
			walk(dim-1, offset+i*stride[dim])
		}
	}
	walk(d.NDim-1, 0)
	return nil
}
