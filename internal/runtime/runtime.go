// Package runtime (garuntime) is the per-process core (C6+C7): it owns the
// descriptor table, the memory-limit counter, and the fence bitmap named
// by the data model's "process-local globals" paragraph, wired to one
// process's Transport and Messaging handles. Bundling these into a struct
// rather than package-level globals is this module's Open Question
// resolution — see DESIGN.md — since a package-level singleton would make
// running several simulated peers in one test binary impossible.
package garuntime

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/dist"
	"github.com/pgas/ga/internal/gaerr"
	"github.com/pgas/ga/internal/mem"
	"github.com/pgas/ga/internal/mesg"
	"github.com/pgas/ga/internal/metrics"
	"github.com/pgas/ga/internal/obslog"
	"github.com/pgas/ga/internal/xport"
)

// Runtime is one process's view of the system: its own transport and
// messaging handles, its own replica of the descriptor table, and its own
// memory/fence bookkeeping.
type Runtime struct {
	log *zap.Logger

	xp   xport.Transport
	mg   mesg.Messaging
	heap mem.TypedHeap
	acct *metrics.Accounting

	table  *descr.Table
	active []int // handles created by this process, in creation order

	memLimited bool
	remaining  int64
	localBytes int64

	fenceDepth   int
	fenceTargets map[int]bool

	mutexChunk int
	mutexCount int

	procList []int
}

// Initialize is the reference initialize(): no memory ceiling.
func Initialize(log *zap.Logger, xp xport.Transport, mg mesg.Messaging, heap mem.TypedHeap) *Runtime {
	return InitializeWithMemoryLimit(log, xp, mg, heap, -1)
}

// InitializeWithMemoryLimit is initialize_with_memory_limit(bytes):
// limitBytes < 0 means unlimited.
func InitializeWithMemoryLimit(log *zap.Logger, xp xport.Transport, mg mesg.Messaging, heap mem.TypedHeap, limitBytes int64) *Runtime {
	return &Runtime{
		log:          obslog.Or(log),
		xp:           xp,
		mg:           mg,
		heap:         heap,
		acct:         metrics.New(xp.Rank()),
		table:        descr.NewTable(descr.DefaultCapacity),
		memLimited:   limitBytes >= 0,
		remaining:    limitBytes,
		fenceTargets: make(map[int]bool),
	}
}

// Accounting exposes this process's metrics for cmd/gadist reporting.
func (r *Runtime) Accounting() *metrics.Accounting { return r.acct }

// Terminate destroys every array this process still holds active, per
// §4.6's "destroys every active array, frees internal buffers, finalizes
// the transport" — finalizing the transport itself is the caller's
// responsibility, since Runtime does not own the transport's lifetime
// (several Runtimes share one Loopback Group).
func (r *Runtime) Terminate() {
	for _, h := range append([]int(nil), r.active...) {
		r.Destroy(h)
	}
}

// Create is the regular create(): computes a balanced distribution then
// delegates to the same collective path as CreateIrregular.
func (r *Runtime) Create(t descr.ElemType, ndim int, dims [descr.MaxDim]int64, name string, chunkHint [descr.MaxDim]int64) (int, error) {
	if ndim <= 0 || ndim > descr.MaxDim {
		return 0, gaerr.InvalidArgument("create", "ndim out of range", ndim)
	}
	shape := dist.Regular(ndim, dims, chunkHint, r.mg.NNodes())
	return r.createFromShape(t, name, shape)
}

// CreateIrregular is create_irregular(): caller supplies mapc/nblock
// directly instead of asking for a balanced distribution.
func (r *Runtime) CreateIrregular(t descr.ElemType, ndim int, dims [descr.MaxDim]int64, name string, mapc [descr.MaxDim][]int64, nblock [descr.MaxDim]int64) (int, error) {
	if ndim <= 0 || ndim > descr.MaxDim {
		return 0, gaerr.InvalidArgument("create_irregular", "ndim out of range", ndim)
	}
	var scale [descr.MaxDim]float64
	for d := 0; d < ndim; d++ {
		if dims[d] > 0 {
			scale[d] = float64(nblock[d]) / float64(dims[d])
		}
	}
	shape := dist.Shape{NDim: ndim, Dims: dims, NBlock: nblock, MapC: mapc, Scale: scale}
	return r.createFromShape(t, name, shape)
}

// Duplicate copies the source descriptor's distribution verbatim and
// allocates a fresh, identically distributed backing region.
func (r *Runtime) Duplicate(handle int, newName string) (int, error) {
	src := r.table.Get(handle)
	if src == nil {
		return 0, gaerr.InvalidHandle("duplicate", handle)
	}
	return r.createFromShape(src.ElemType, newName, dist.FromDescriptor(src))
}

// createFromShape is the shared collective body of create/create_irregular/
// duplicate described in §4.6: validate, claim a slot, compute the owned
// chunk, run the AND-reduction memory check, allocate, align, barrier.
func (r *Runtime) createFromShape(t descr.ElemType, name string, shape dist.Shape) (int, error) {
	handle, ok := r.table.Alloc()
	if !ok {
		return 0, gaerr.ResourceExhausted("create", "descriptor table full", r.table.Capacity())
	}
	d := r.table.GetSlot(handle)
	*d = descr.Descriptor{
		Active:   true,
		Name:     name,
		ElemType: t,
		ElemSize: t.Size(),
		NDim:     shape.NDim,
		Dims:     shape.Dims,
		NBlock:   shape.NBlock,
		MapC:     shape.MapC,
		Scale:    shape.Scale,
	}

	rank := r.mg.NodeID()
	coords, owns := dist.BlockCoordsFromRank(shape, rank)
	var localBytes int64
	if owns {
		blo, bhi := dist.BlockBounds(shape, coords)
		d.Lo = blo
		localBytes = int64(d.ElemSize)
		for k := 0; k < shape.NDim; k++ {
			d.Chunk[k] = bhi[k] - blo[k] + 1
			localBytes *= d.Chunk[k]
		}
	}
	d.SizeBytes = localBytes

	lacksMemory := int64(0)
	if r.memLimited && r.remaining-localBytes < 0 {
		lacksMemory = 1
	}
	deficit := []int64{lacksMemory}
	if err := r.mg.IGop("+", deficit); err != nil {
		r.table.Free(handle)
		return 0, gaerr.Internal("create", "memory-check reduction failed", name)
	}
	if deficit[0] > 0 {
		r.table.Free(handle)
		return 0, gaerr.ResourceExhausted("create", "at least one peer lacks memory", name)
	}
	if r.memLimited {
		r.remaining -= localBytes
	}

	rawBases, err := r.xp.SymmetricAlloc(int(localBytes))
	if err != nil {
		r.table.Free(handle)
		return 0, gaerr.ResourceExhausted("create", "transport allocation failed", name)
	}

	adjust := make([]int64, r.mg.NNodes())
	if owns && localBytes > 0 {
		adjust[rank] = int64(mem.Align(r.heap.Base(t), rawBases[rank], d.ElemSize))
	}
	if err := r.mg.IGop("+", adjust); err != nil {
		r.table.Free(handle)
		return 0, gaerr.Internal("create", "alignment reduction failed", name)
	}
	bases := make([]unsafe.Pointer, len(rawBases))
	for p := range rawBases {
		if rawBases[p] != nil {
			bases[p] = unsafe.Add(rawBases[p], int(adjust[p]))
		}
	}
	d.BasePtr = bases
	if owns {
		d.AllocAdjust = int(adjust[rank])
	}

	if err := r.mg.Barrier(); err != nil {
		return 0, gaerr.Internal("create", "post-create barrier failed", name)
	}
	r.acct.GrowLocal(localBytes)
	r.localBytes += localBytes
	r.active = append(r.active, handle)
	return handle, nil
}

// Destroy is destroy(): returns false (no error) for an invalid handle or
// an already-inactive slot, per §4.6.
func (r *Runtime) Destroy(handle int) bool {
	d := r.table.Get(handle)
	if d == nil {
		return false
	}
	rank := r.mg.NodeID()
	var raw unsafe.Pointer
	if d.Owns() && rank < len(d.BasePtr) && d.BasePtr[rank] != nil {
		raw = unsafe.Add(d.BasePtr[rank], -d.AllocAdjust)
	}
	if err := r.xp.SymmetricFree(raw); err != nil {
		obslog.Fatal(r.log, "destroy", "transport free failed", handle, err)
	}
	if r.memLimited {
		r.remaining += d.SizeBytes
	}
	r.acct.ShrinkLocal(d.SizeBytes)
	r.localBytes -= d.SizeBytes
	r.table.Free(handle)
	r.removeActive(handle)
	return true
}

func (r *Runtime) removeActive(handle int) {
	for i, h := range r.active {
		if h == handle {
			r.active = append(r.active[:i], r.active[i+1:]...)
			return
		}
	}
}

// Inquire is inquire(): element type, dimensionality, and global extents.
func (r *Runtime) Inquire(handle int) (descr.ElemType, int, [descr.MaxDim]int64, error) {
	d := r.table.Get(handle)
	if d == nil {
		return 0, 0, [descr.MaxDim]int64{}, gaerr.InvalidHandle("inquire", handle)
	}
	return d.ElemType, d.NDim, d.Dims, nil
}

// Distribution is distribution(handle, proc): the owned [lo,hi] patch of
// proc. A process owning no part of the array gets lo[0]=1, hi[0]=0 — the
// conventional "lo > hi means empty" signal.
func (r *Runtime) Distribution(handle, proc int) (lo, hi [descr.MaxDim]int64, err error) {
	d := r.table.Get(handle)
	if d == nil {
		return lo, hi, gaerr.InvalidHandle("distribution", handle)
	}
	shape := dist.FromDescriptor(d)
	coords, ok := dist.BlockCoordsFromRank(shape, proc)
	if !ok {
		lo[0], hi[0] = 1, 0
		return lo, hi, nil
	}
	lo, hi = dist.BlockBounds(shape, coords)
	return lo, hi, nil
}

// ProcTopology is proc_topology(handle, proc): proc's block coordinates.
func (r *Runtime) ProcTopology(handle, proc int) ([descr.MaxDim]int64, error) {
	d := r.table.Get(handle)
	if d == nil {
		return [descr.MaxDim]int64{}, gaerr.InvalidHandle("proc_topology", handle)
	}
	coords, ok := dist.BlockCoordsFromRank(dist.FromDescriptor(d), proc)
	if !ok {
		return [descr.MaxDim]int64{}, gaerr.InvalidArgument("proc_topology", "proc owns no block", proc)
	}
	return coords, nil
}

// Locate is locate(handle, subscript).
func (r *Runtime) Locate(handle int, sub [descr.MaxDim]int64) (int, error) {
	d := r.table.Get(handle)
	if d == nil {
		return 0, gaerr.InvalidHandle("locate", handle)
	}
	owner, ok := dist.LocateOwner(dist.FromDescriptor(d), sub)
	if !ok {
		return 0, gaerr.InvalidArgument("locate", "subscript out of range", sub[:d.NDim])
	}
	return owner, nil
}

// LocateRegion is locate_region(handle, lo, hi).
func (r *Runtime) LocateRegion(handle int, lo, hi [descr.MaxDim]int64) ([]dist.Rect, error) {
	d := r.table.Get(handle)
	if d == nil {
		return nil, gaerr.InvalidHandle("locate_region", handle)
	}
	rects, err := dist.LocateRegion(dist.FromDescriptor(d), lo, hi)
	if err != nil {
		return nil, gaerr.InvalidArgument("locate_region", "patch out of range", err.Error())
	}
	return rects, nil
}

// Sync is sync(): all_fence on every target, then a process-group
// barrier, then the fence bitmap is cleared since every write is now
// globally visible.
func (r *Runtime) Sync() error {
	if err := r.xp.AllFence(); err != nil {
		return gaerr.Internal("sync", "all_fence failed", nil)
	}
	if err := r.mg.Barrier(); err != nil {
		return gaerr.Internal("sync", "barrier failed", nil)
	}
	r.fenceTargets = make(map[int]bool)
	return nil
}

// InitFence increments fence_depth.
func (r *Runtime) InitFence() { r.fenceDepth++ }

// Fence is fence(): decrements fence_depth, draining the transport-level
// fence for every target marked since the last init_fence/sync.
func (r *Runtime) Fence() error {
	if r.fenceDepth == 0 {
		return gaerr.Usage("fence", "no matching init_fence", nil)
	}
	r.fenceDepth--
	for target := range r.fenceTargets {
		if err := r.xp.Fence(target); err != nil {
			return gaerr.Internal("fence", "transport fence failed", target)
		}
	}
	r.fenceTargets = make(map[int]bool)
	return nil
}

func (r *Runtime) markFenceTarget(target int) { r.fenceTargets[target] = true }

// NodeID/NNodes proxy the messaging layer's process identity.
func (r *Runtime) NodeID() int  { return r.mg.NodeID() }
func (r *Runtime) NNodes() int  { return r.mg.NNodes() }

func ceilDivInt(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// CreateMutexes is create_mutexes(n): partitions n mutexes across peers in
// chunks of ceil(n/nproc).
func (r *Runtime) CreateMutexes(n int) error {
	if n <= 0 {
		return gaerr.InvalidArgument("create_mutexes", "n must be positive", n)
	}
	chunk := ceilDivInt(n, r.mg.NNodes())
	rank := r.mg.NodeID()
	nLocal := 0
	lo := rank * chunk
	if lo < n {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		nLocal = hi - lo
	}
	if err := r.xp.CreateMutexes(nLocal); err != nil {
		return gaerr.ResourceExhausted("create_mutexes", "transport create_mutexes failed", n)
	}
	r.mutexChunk, r.mutexCount = chunk, n
	return nil
}

// DestroyMutexes is destroy_mutexes().
func (r *Runtime) DestroyMutexes() error {
	if err := r.xp.DestroyMutexes(); err != nil {
		return gaerr.Internal("destroy_mutexes", "transport destroy_mutexes failed", nil)
	}
	r.mutexChunk, r.mutexCount = 0, 0
	return nil
}

// Lock is lock(m): owner = m/chunk, local = m%chunk.
func (r *Runtime) Lock(m int) error {
	if m < 0 || m >= r.mutexCount {
		return gaerr.InvalidArgument("lock", "mutex id out of range", m)
	}
	if err := r.xp.Lock(m%r.mutexChunk, m/r.mutexChunk); err != nil {
		return gaerr.Internal("lock", "transport lock failed", m)
	}
	return nil
}

// Unlock is unlock(m).
func (r *Runtime) Unlock(m int) error {
	if m < 0 || m >= r.mutexCount {
		return gaerr.InvalidArgument("unlock", "mutex id out of range", m)
	}
	if err := r.xp.Unlock(m%r.mutexChunk, m/r.mutexChunk); err != nil {
		return gaerr.Internal("unlock", "transport unlock failed", m)
	}
	return nil
}

// UsesMA reports whether this runtime's symmetric storage rides on a
// typed bulk heap (§6) — always true for this implementation.
func (r *Runtime) UsesMA() bool { return true }

// MemoryLimited is memory_limited().
func (r *Runtime) MemoryLimited() bool { return r.memLimited }

// InquireMemory is inquire_memory(): bytes currently held by this process
// across all of its active arrays.
func (r *Runtime) InquireMemory() int64 { return r.localBytes }

// MemoryAvail is memory_avail(): remaining budget, or -1 if unlimited.
func (r *Runtime) MemoryAvail() int64 {
	if !r.memLimited {
		return -1
	}
	return r.remaining
}

// RegisterProcList installs an optional rank remap (§6). Only the process
// list itself is retained; this reference implementation does not re-route
// any other operation through it, since nothing in this module's surface
// needs more than the identity mapping to be correct (see DESIGN.md).
func (r *Runtime) RegisterProcList(list []int) error {
	if len(list) != r.mg.NNodes() {
		return gaerr.InvalidArgument("register_proc_list", "list length must equal nnodes", len(list))
	}
	r.procList = append([]int(nil), list...)
	return nil
}
