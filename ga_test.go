package ga_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgas/ga"
)

// runCollective invokes f once per rank concurrently — the shape every
// collective operation (create, duplicate, destroy, sync, mutex
// create/destroy) requires: every peer must enter the call before any of
// them can return, since each is backed by a barrier in internal/xport or
// internal/mesg.
func runCollective(n int, f func(rank int)) {
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			f(r)
		}(r)
	}
	wg.Wait()
}

func mustCreate(t *testing.T, group *ga.Group, n int, et ga.ElemType, dims []int64, name string, chunkHint []int64) ga.Handle {
	t.Helper()
	handles := make([]ga.Handle, n)
	errs := make([]error, n)
	runCollective(n, func(rank int) {
		handles[rank], errs[rank] = ga.Create(group.Process(rank), et, dims, name, chunkHint)
	})
	for r := 0; r < n; r++ {
		require.NoError(t, errs[r])
		require.Equal(t, handles[0], handles[r])
	}
	return handles[0]
}

func mustCreateIrregular(t *testing.T, group *ga.Group, n int, et ga.ElemType, dims []int64, name string, mapc [][]int64, nblock []int64) ga.Handle {
	t.Helper()
	handles := make([]ga.Handle, n)
	errs := make([]error, n)
	runCollective(n, func(rank int) {
		handles[rank], errs[rank] = ga.CreateIrregular(group.Process(rank), et, dims, name, mapc, nblock)
	})
	for r := 0; r < n; r++ {
		require.NoError(t, errs[r])
		require.Equal(t, handles[0], handles[r])
	}
	return handles[0]
}

func createFails(t *testing.T, group *ga.Group, n int, et ga.ElemType, dims []int64, name string, chunkHint []int64) {
	t.Helper()
	errs := make([]error, n)
	runCollective(n, func(rank int) {
		_, errs[rank] = ga.Create(group.Process(rank), et, dims, name, chunkHint)
	})
	for r := 0; r < n; r++ {
		require.Error(t, errs[r])
	}
}

func mustDuplicate(t *testing.T, group *ga.Group, n int, h ga.Handle, newName string) ga.Handle {
	t.Helper()
	handles := make([]ga.Handle, n)
	errs := make([]error, n)
	runCollective(n, func(rank int) {
		handles[rank], errs[rank] = ga.Duplicate(group.Process(rank), h, newName)
	})
	for r := 0; r < n; r++ {
		require.NoError(t, errs[r])
		require.Equal(t, handles[0], handles[r])
	}
	return handles[0]
}

func mustDestroy(t *testing.T, group *ga.Group, n int, h ga.Handle) {
	t.Helper()
	oks := make([]bool, n)
	runCollective(n, func(rank int) {
		oks[rank] = ga.Destroy(group.Process(rank), h)
	})
	for r := 0; r < n; r++ {
		require.True(t, oks[r])
	}
}

func mustSync(t *testing.T, group *ga.Group, n int) {
	t.Helper()
	errs := make([]error, n)
	runCollective(n, func(rank int) {
		errs[rank] = ga.Sync(group.Process(rank))
	})
	for r := 0; r < n; r++ {
		require.NoError(t, errs[r])
	}
}

// S1 — round-trip put/get on a 4x4 integer array with 2 peers, row-partitioned.
func TestPutGetRoundTrip(t *testing.T) {
	const n = 2
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Int64, []int64{4, 4}, "s1", nil)

	p0, p1 := group.Process(0), group.Process(1)
	buf := make([]int64, 16)
	for i := int64(0); i < 4; i++ {
		for j := int64(0); j < 4; j++ {
			buf[i*4+j] = 10*(i+1) + (j + 1)
		}
	}
	require.NoError(t, ga.Put(p0, h, []int64{1, 1}, []int64{4, 4}, buf, []int64{4, 4}))
	mustSync(t, group, n)

	got := make([]int64, 4)
	require.NoError(t, ga.Get(p1, h, []int64{2, 2}, []int64{3, 3}, got, []int64{2, 2}))
	require.Equal(t, []int64{22, 23, 32, 33}, got)
}

// S2 — accumulate convergence: 4 peers each acc ones(8) with alpha=1 into a
// shared 1-D float array of length 8; after sync every element is 4.0.
func TestAccumulateConvergence(t *testing.T) {
	const n = 4
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Float64, []int64{8}, "s2", nil)
	// zero is local-only (no barrier): every rank must zero its own patch.
	for rank := 0; rank < n; rank++ {
		require.NoError(t, ga.Zero(group.Process(rank), h))
	}

	ones := make([]float64, 8)
	for i := range ones {
		ones[i] = 1.0
	}

	errs := make([]error, n)
	runCollective(n, func(rank int) {
		errs[rank] = ga.Acc(group.Process(rank), h, []int64{1}, []int64{8}, ones, []int64{8}, 1.0)
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
	mustSync(t, group, n)

	result := make([]float64, 8)
	require.NoError(t, ga.Get(group.Process(0), h, []int64{1}, []int64{8}, result, []int64{8}))
	for i, v := range result {
		require.InDelta(t, 4.0, v, 1e-9, "element %d", i)
	}
}

// S3 — fetch-and-add race: 16 peers each read_inc a 1x1 integer array
// initialized to 0; the union of returned values is {0,...,15} and the
// final value is 16.
func TestFetchAndAddRace(t *testing.T) {
	const n = 16
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Int64, []int64{1}, "s3", nil)
	// zero is local-only (no barrier): every rank must zero its own patch.
	// Non-owning ranks are a no-op (Owns() guards them), so it's safe to
	// call from all n even though only one rank owns the single element.
	for rank := 0; rank < n; rank++ {
		require.NoError(t, ga.Zero(group.Process(rank), h))
	}

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			old, err := ga.ReadInc(group.Process(rank), h, []int64{1}, 1)
			require.NoError(t, err)
			mu.Lock()
			seen[old] = true
			mu.Unlock()
		}(rank)
	}
	wg.Wait()

	require.Len(t, seen, n)
	for i := int64(0); i < n; i++ {
		require.True(t, seen[i], "missing returned value %d", i)
	}

	final := make([]int64, 1)
	require.NoError(t, ga.Get(group.Process(0), h, []int64{1}, []int64{1}, final, []int64{1}))
	require.Equal(t, int64(n), final[0])
}

// S4 — scatter then gather: integer array 1-D length 100, 2-peer block
// distribution. Peer 0 scatters at subscripts [10,50,90], peer 1 gathers
// the same subscripts after sync.
func TestScatterGather(t *testing.T) {
	const n = 2
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Int64, []int64{100}, "s4", nil)

	subs := [][]int64{{10}, {50}, {90}}
	values := []int64{7, 7, 7}
	require.NoError(t, ga.Scatter(group.Process(0), h, values, subs))
	mustSync(t, group, n)

	got := make([]int64, 3)
	require.NoError(t, ga.Gather(group.Process(1), h, got, subs))
	require.Equal(t, values, got)
}

// S5 — locate_region split: 2-D array dims=[10,10], nblock=[2,2], mapc =
// [1,6;1,6]; locate_region([3,3],[8,8]) returns four rectangles, owner
// assignment column-major over nblock (first dimension varies fastest).
func TestLocateRegionSplit(t *testing.T) {
	const n = 4
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreateIrregular(t, group, n, ga.Int64, []int64{10, 10}, "s5",
		[][]int64{{1, 6}, {1, 6}}, []int64{2, 2})

	rects, err := ga.LocateRegion(group.Process(0), h, []int64{3, 3}, []int64{8, 8})
	require.NoError(t, err)
	require.Len(t, rects, 4)

	// owner = coords[0] + coords[1]*nblock[0] (column-major over block coords).
	want := []ga.Rect{
		{Lo: []int64{3, 3}, Hi: []int64{5, 5}, Owner: 0},
		{Lo: []int64{6, 3}, Hi: []int64{8, 5}, Owner: 1},
		{Lo: []int64{3, 6}, Hi: []int64{5, 8}, Owner: 2},
		{Lo: []int64{6, 6}, Hi: []int64{8, 8}, Owner: 3},
	}
	require.ElementsMatch(t, want, rects)
}

// S6 — memory limit: creating a 200,000-element double array under a 1 MiB
// ceiling fails, consumes no slot, and leaves inquire_memory at 0. The chunk
// hint requests the whole extent as one block, so the owning peer's chunk is
// the full 200,000*8 = 1,600,000 bytes (~1.6 MiB) rather than a balanced
// 2-way split that would halve it under the ceiling.
func TestMemoryLimitRejectsOversizedCreate(t *testing.T) {
	const n = 2
	group := ga.NewGroupWithMemoryLimit(n, nil, 1<<20)
	defer group.Terminate()

	createFails(t, group, n, ga.Float64, []int64{200000}, "s6", []int64{200000})
	require.Equal(t, int64(0), ga.InquireMemory(group.Process(0)))
}

// Duplicate equivalence (§8 property 7): duplicate yields an array with
// identical inquire/distribution/locate results.
func TestDuplicateEquivalence(t *testing.T) {
	const n = 3
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Float64, []int64{12, 12}, "orig", nil)
	dup := mustDuplicate(t, group, n, h, "copy")

	root := group.Process(0)
	infoA, err := ga.Inquire(root, h)
	require.NoError(t, err)
	infoB, err := ga.Inquire(root, dup)
	require.NoError(t, err)
	require.Equal(t, infoA, infoB)

	for rank := 0; rank < n; rank++ {
		loA, hiA, err := ga.Distribution(root, h, rank)
		require.NoError(t, err)
		loB, hiB, err := ga.Distribution(root, dup, rank)
		require.NoError(t, err)
		require.Equal(t, loA, loB)
		require.Equal(t, hiA, hiB)
	}
}

// Boundary: a single-peer distribution owns the whole array.
func TestSinglePeerOwnsWholeArray(t *testing.T) {
	const n = 1
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Int64, []int64{5, 5}, "p1", nil)

	lo, hi, err := ga.Distribution(group.Process(0), h, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1}, lo)
	require.Equal(t, []int64{5, 5}, hi)
}

// Boundary: scatter/gather with n=0 is a clean no-op.
func TestScatterGatherEmpty(t *testing.T) {
	const n = 1
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Int64, []int64{10}, "empty", nil)
	p := group.Process(0)

	require.NoError(t, ga.Scatter(p, h, []int64{}, nil))
	require.NoError(t, ga.Gather(p, h, []int64{}, nil))
}

// read_inc is illegal on non-integer arrays (§7 UsageError).
func TestReadIncRejectsNonInteger(t *testing.T) {
	const n = 1
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Float64, []int64{4}, "floaty", nil)

	_, err := ga.ReadInc(group.Process(0), h, []int64{1}, 1)
	require.Error(t, err)
}

// Access is fatal (returns an error) when the caller does not own the
// whole requested patch.
func TestAccessRequiresFullOwnership(t *testing.T) {
	const n = 2
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Int64, []int64{4, 4}, "owned", nil)
	p0 := group.Process(0)

	_, err := ga.Access[int64](p0, h, []int64{1, 1}, []int64{4, 4})
	require.Error(t, err)

	lo, hi, err := ga.Distribution(p0, h, 0)
	require.NoError(t, err)
	w, err := ga.Access[int64](p0, h, lo, hi)
	require.NoError(t, err)
	require.NotEmpty(t, w.Data)
}

func TestFillZeroScale(t *testing.T) {
	const n = 1
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	h := mustCreate(t, group, n, ga.Float64, []int64{4}, "fzs", nil)
	p := group.Process(0)

	require.NoError(t, ga.Fill(p, h, 3.0))
	buf := make([]float64, 4)
	require.NoError(t, ga.Get(p, h, []int64{1}, []int64{4}, buf, []int64{4}))
	for _, v := range buf {
		require.Equal(t, 3.0, v)
	}

	require.NoError(t, ga.Scale(p, h, 2.0))
	require.NoError(t, ga.Get(p, h, []int64{1}, []int64{4}, buf, []int64{4}))
	for _, v := range buf {
		require.Equal(t, 6.0, v)
	}

	require.NoError(t, ga.Zero(p, h))
	require.NoError(t, ga.Get(p, h, []int64{1}, []int64{4}, buf, []int64{4}))
	for _, v := range buf {
		require.Equal(t, 0.0, v)
	}
}

func TestDestroyIsIdempotentForInvalidHandle(t *testing.T) {
	const n = 1
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	p := group.Process(0)
	require.False(t, ga.Destroy(p, ga.Handle(-9999)))

	h := mustCreate(t, group, n, ga.Int64, []int64{2}, "gone", nil)
	mustDestroy(t, group, n, h)
	require.False(t, ga.Destroy(p, h))
}

func TestMutexRoundTrip(t *testing.T) {
	const n = 2
	group := ga.NewGroup(n, nil)
	defer group.Terminate()

	errs := make([]error, n)
	runCollective(n, func(rank int) {
		errs[rank] = ga.CreateMutexes(group.Process(rank), 5)
	})
	for _, err := range errs {
		require.NoError(t, err)
	}

	p0 := group.Process(0)
	require.NoError(t, ga.Lock(p0, 0))
	require.NoError(t, ga.Unlock(p0, 0))
	require.Error(t, ga.Lock(p0, 99))

	runCollective(n, func(rank int) {
		errs[rank] = ga.DestroyMutexes(group.Process(rank))
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
}
