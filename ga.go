// Package ga is a partitioned global address space (PGAS) array runtime: a
// group of cooperating SPMD processes collectively create, access, and
// mutate multi-dimensional dense numeric arrays whose storage is physically
// partitioned across the processes yet addressable by any process using
// global indices.
//
// The public surface here is thin by design: every exported function
// validates its arguments, resolves a handle through the internal
// descriptor table, and delegates to internal/dist and internal/access. The
// heavy lifting — distribution math, strided transfers, fence bookkeeping —
// lives in internal/ and is exercised through this surface and through
// cmd/gadist.
package ga

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/mem"
	"github.com/pgas/ga/internal/mesg"
	"github.com/pgas/ga/internal/metrics"
	garuntime "github.com/pgas/ga/internal/runtime"
	"github.com/pgas/ga/internal/xport"
)

// Element type enumeration (§6): the only values legal for an array's type.
const (
	Int64      = descr.Int64
	Float64    = descr.Float64
	Complex128 = descr.Complex128
)

// MaxDim bounds the number of dimensions a global array may have.
const MaxDim = descr.MaxDim

// ElemType is the element-type enumeration itself, for callers that need to
// name the type (e.g. to branch on Info.Type).
type ElemType = descr.ElemType

// Handle is an opaque identifier for a live global array, valid at every
// process in the group.
type Handle int

// Group is a set of cooperating SPMD peers sharing one in-process Loopback
// transport and messaging layer (internal/xport, internal/mesg). A real
// deployment would have each peer as its own OS process talking over
// ARMCI/MPI; Group simulates the whole process group in one Go process so
// the module is runnable and testable standalone, matching §1's framing of
// the transport/messaging layers as external collaborators consumed through
// an abstract interface.
type Group struct {
	n        int
	xg       *xport.Group
	mg       *mesg.Group
	heap     mem.TypedHeap
	runtimes []*garuntime.Runtime
}

// NewGroup creates an n-peer group with no memory ceiling. log may be nil
// (falls back to a no-op logger, see internal/obslog).
func NewGroup(n int, log *zap.Logger) *Group {
	return NewGroupWithMemoryLimit(n, log, -1)
}

// NewGroupWithMemoryLimit creates an n-peer group with a per-process memory
// ceiling in bytes (negative means unlimited), mirroring
// initialize_with_memory_limit(bytes).
func NewGroupWithMemoryLimit(n int, log *zap.Logger, limitBytes int64) *Group {
	if n < 1 {
		n = 1
	}
	g := &Group{
		n:    n,
		xg:   xport.NewGroup(n),
		mg:   mesg.NewGroup(n),
		heap: mem.NewFixedHeap(64),
	}
	g.runtimes = make([]*garuntime.Runtime, n)
	for rank := 0; rank < n; rank++ {
		g.runtimes[rank] = garuntime.InitializeWithMemoryLimit(log, g.xg.Peer(rank), g.mg.Peer(rank), g.heap, limitBytes)
	}
	return g
}

// NNodes is nnodes(): the number of peers in this group.
func (g *Group) NNodes() int { return g.n }

// Process returns the per-rank API surface for peer rank. Every method on
// Process corresponds 1:1 to an operation named in §6.
func (g *Group) Process(rank int) *Process { return &Process{rt: g.runtimes[rank]} }

// Terminate destroys every array still held by every peer in the group,
// matching terminate()'s "destroys every active array" contract extended
// across the whole simulated process group.
func (g *Group) Terminate() {
	// Destroy is collective, so every peer's Terminate must run concurrently.
	var wg sync.WaitGroup
	for _, rt := range g.runtimes {
		wg.Add(1)
		go func(rt *garuntime.Runtime) {
			defer wg.Done()
			rt.Terminate()
		}(rt)
	}
	wg.Wait()
}

// Process is one simulated peer's view of a Group: its own runtime, its own
// rank. All operations that mutate or read a global array are methods (or,
// for typed buffer transfers, generic package-level functions taking a
// *Process) on this type.
type Process struct {
	rt *garuntime.Runtime
}

// NodeID is nodeid(): this process's rank.
func (p *Process) NodeID() int { return p.rt.NodeID() }

// NNodes is nnodes(): total process count.
func (p *Process) NNodes() int { return p.rt.NNodes() }

// Accounting exposes the process-local metrics registry (bytes
// transferred, op counts, current/peak local bytes — §3's accounting
// struct) for scraping or printing.
func (p *Process) Accounting() *metrics.Accounting { return p.rt.Accounting() }

func fixedDims(dims []int64) (arr [descr.MaxDim]int64, ndim int) {
	ndim = len(dims)
	if ndim > descr.MaxDim {
		ndim = descr.MaxDim
	}
	copy(arr[:ndim], dims[:ndim])
	return arr, ndim
}

// Create is create(type, dims, name, chunk_hint): computes a balanced
// distribution (internal/dist.Regular) and creates the array collectively.
// chunkHint may be nil (no forced block size in any dimension).
func Create(p *Process, t descr.ElemType, dims []int64, name string, chunkHint []int64) (Handle, error) {
	d, ndim := fixedDims(dims)
	var hint [descr.MaxDim]int64
	copy(hint[:ndim], chunkHint)
	h, err := p.rt.Create(t, ndim, d, name, hint)
	return Handle(h), err
}

// CreateIrregular is create_irregular(type, dims, name, mapc, nblock):
// caller supplies the distribution map directly instead of asking for a
// balanced one.
func CreateIrregular(p *Process, t descr.ElemType, dims []int64, name string, mapc [][]int64, nblock []int64) (Handle, error) {
	d, ndim := fixedDims(dims)
	var nb [descr.MaxDim]int64
	copy(nb[:ndim], nblock)
	var mc [descr.MaxDim][]int64
	for i := 0; i < ndim && i < len(mapc); i++ {
		mc[i] = append([]int64(nil), mapc[i]...)
	}
	h, err := p.rt.CreateIrregular(t, ndim, d, name, mc, nb)
	return Handle(h), err
}

// Duplicate is duplicate(handle, new_name).
func Duplicate(p *Process, h Handle, newName string) (Handle, error) {
	nh, err := p.rt.Duplicate(int(h), newName)
	return Handle(nh), err
}

// Destroy is destroy(handle): returns false (no error) for an invalid
// handle or an already-inactive slot.
func Destroy(p *Process, h Handle) bool { return p.rt.Destroy(int(h)) }

// Info is the result of Inquire: type, dimensionality, and global extents.
type Info struct {
	Type descr.ElemType
	NDim int
	Dims []int64
}

// Inquire is inquire(handle).
func Inquire(p *Process, h Handle) (Info, error) {
	t, ndim, dims, err := p.rt.Inquire(int(h))
	if err != nil {
		return Info{}, err
	}
	return Info{Type: t, NDim: ndim, Dims: append([]int64(nil), dims[:ndim]...)}, nil
}

// Distribution is distribution(handle, proc): the [lo,hi] patch proc owns.
// An empty result (lo[0] > hi[0]) means proc owns no share of the array.
func Distribution(p *Process, h Handle, proc int) (lo, hi []int64, err error) {
	info, ierr := Inquire(p, h)
	if ierr != nil {
		return nil, nil, ierr
	}
	l, hh, err := p.rt.Distribution(int(h), proc)
	if err != nil {
		return nil, nil, err
	}
	return l[:info.NDim], hh[:info.NDim], nil
}

// ProcTopology is proc_topology(handle, proc): proc's block coordinates.
func ProcTopology(p *Process, h Handle, proc int) ([]int64, error) {
	info, ierr := Inquire(p, h)
	if ierr != nil {
		return nil, ierr
	}
	coords, err := p.rt.ProcTopology(int(h), proc)
	if err != nil {
		return nil, err
	}
	return coords[:info.NDim], nil
}

// Locate is locate(handle, subscript) -> owner.
func Locate(p *Process, h Handle, sub []int64) (int, error) {
	s, _ := fixedDims(sub)
	return p.rt.Locate(int(h), s)
}

// Rect is one (sub_lo, sub_hi, owner) intersection emitted by LocateRegion.
type Rect struct {
	Lo, Hi []int64
	Owner  int
}

// LocateRegion is locate_region(handle, lo, hi).
func LocateRegion(p *Process, h Handle, lo, hi []int64) ([]Rect, error) {
	info, ierr := Inquire(p, h)
	if ierr != nil {
		return nil, ierr
	}
	l, _ := fixedDims(lo)
	hh, _ := fixedDims(hi)
	rects, err := p.rt.LocateRegion(int(h), l, hh)
	if err != nil {
		return nil, err
	}
	out := make([]Rect, len(rects))
	for i, r := range rects {
		out[i] = Rect{
			Lo:    append([]int64(nil), r.Lo[:info.NDim]...),
			Hi:    append([]int64(nil), r.Hi[:info.NDim]...),
			Owner: r.Owner,
		}
	}
	return out, nil
}

// Sync is sync(): all_fence on every target, then a collective barrier.
func Sync(p *Process) error { return p.rt.Sync() }

// InitFence is init_fence(): increments fence_depth. Nestable.
func InitFence(p *Process) { p.rt.InitFence() }

// Fence is fence(): decrements fence_depth, draining the transport fence
// for every target marked since the last init_fence/sync.
func Fence(p *Process) error { return p.rt.Fence() }

// CreateMutexes is create_mutexes(n): partitions n mutexes across peers.
func CreateMutexes(p *Process, n int) error { return p.rt.CreateMutexes(n) }

// DestroyMutexes is destroy_mutexes().
func DestroyMutexes(p *Process) error { return p.rt.DestroyMutexes() }

// Lock is lock(m).
func Lock(p *Process, m int) error { return p.rt.Lock(m) }

// Unlock is unlock(m).
func Unlock(p *Process, m int) error { return p.rt.Unlock(m) }

// UsesMA is uses_ma().
func UsesMA(p *Process) bool { return p.rt.UsesMA() }

// MemoryLimited is memory_limited().
func MemoryLimited(p *Process) bool { return p.rt.MemoryLimited() }

// InquireMemory is inquire_memory(): bytes currently held by this process.
func InquireMemory(p *Process) int64 { return p.rt.InquireMemory() }

// MemoryAvail is memory_avail(): remaining budget, or -1 if unlimited.
func MemoryAvail(p *Process) int64 { return p.rt.MemoryAvail() }

// RegisterProcList records an optional rank remap (§6, §9 "Rank
// permutation"). Must be called, if at all, before any array creation. The
// list is only stored: no operation is routed through it, and every rank
// keeps its identity mapping.
func RegisterProcList(p *Process, list []int) error { return p.rt.RegisterProcList(list) }
