package dist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/dist"
)

func fixed(vals ...int64) [descr.MaxDim]int64 {
	var out [descr.MaxDim]int64
	copy(out[:], vals)
	return out
}

func TestRegularBalances1D(t *testing.T) {
	shape := dist.Regular(1, fixed(100), fixed(0), 4)
	require.Equal(t, int64(4), shape.NBlock[0])
	require.Equal(t, []int64{1, 26, 51, 76}, shape.MapC[0])
}

func TestRegularHonorsChunkHint(t *testing.T) {
	shape := dist.Regular(1, fixed(100), fixed(10), 4)
	require.Equal(t, int64(10), shape.NBlock[0])
}

func TestRegular2DSplitsAcrossDimensions(t *testing.T) {
	shape := dist.Regular(2, fixed(100, 100), fixed(0, 0), 2)
	require.Equal(t, int64(2), shape.NBlock[0])
	require.Equal(t, int64(1), shape.NBlock[1])
	require.Equal(t, []int64{1, 51}, shape.MapC[0])
	require.Equal(t, []int64{1}, shape.MapC[1])
}

func TestLocateOwnerAndBoundsRoundTrip(t *testing.T) {
	shape := dist.Regular(2, fixed(10, 10), fixed(0, 0), 4)
	total := int(shape.NBlock[0] * shape.NBlock[1])
	for rank := 0; rank < total; rank++ {
		coords, ok := dist.BlockCoordsFromRank(shape, rank)
		require.True(t, ok)
		lo, hi := dist.BlockBounds(shape, coords)
		mid := [descr.MaxDim]int64{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2}
		owner, ok := dist.LocateOwner(shape, mid)
		require.True(t, ok)
		require.Equal(t, rank, owner)
	}
}

func TestLocateOwnerOutOfRange(t *testing.T) {
	shape := dist.Regular(1, fixed(10), fixed(0), 2)
	_, ok := dist.LocateOwner(shape, fixed(0))
	require.False(t, ok)
	_, ok = dist.LocateOwner(shape, fixed(11))
	require.False(t, ok)
}

func TestBlockCoordsFromRankOutOfRange(t *testing.T) {
	shape := dist.Regular(1, fixed(10), fixed(0), 2)
	_, ok := dist.BlockCoordsFromRank(shape, 99)
	require.False(t, ok)
}

func TestLocateRegionCoversWholeArrayExactly(t *testing.T) {
	shape := dist.Regular(1, fixed(20), fixed(0), 4)
	rects, err := dist.LocateRegion(shape, fixed(1), fixed(20))
	require.NoError(t, err)
	require.Len(t, rects, 4)

	var covered int64
	seen := make(map[int]bool)
	for _, r := range rects {
		require.False(t, seen[r.Owner], "owner %d appears twice", r.Owner)
		seen[r.Owner] = true
		covered += r.Hi[0] - r.Lo[0] + 1
	}
	require.Equal(t, int64(20), covered)
}

func TestLocateRegionSingleBlock(t *testing.T) {
	shape := dist.Regular(1, fixed(20), fixed(0), 4)
	rects, err := dist.LocateRegion(shape, fixed(3), fixed(4))
	require.NoError(t, err)
	require.Len(t, rects, 1)
	require.Equal(t, int64(3), rects[0].Lo[0])
	require.Equal(t, int64(4), rects[0].Hi[0])
}

func TestLocateRegionOutOfRangeError(t *testing.T) {
	shape := dist.Regular(1, fixed(20), fixed(0), 4)
	_, err := dist.LocateRegion(shape, fixed(0), fixed(5))
	require.Error(t, err)
	_, err = dist.LocateRegion(shape, fixed(1), fixed(21))
	require.Error(t, err)
}

func TestLinearRankRoundTrip(t *testing.T) {
	shape := dist.Regular(2, fixed(10, 10), fixed(0, 0), 6)
	for rank := 0; rank < int(shape.NBlock[0]*shape.NBlock[1]); rank++ {
		coords, ok := dist.BlockCoordsFromRank(shape, rank)
		require.True(t, ok)
		require.Equal(t, rank, dist.LinearRank(shape, coords))
	}
}

func TestPermuteIsStablePerRankAndPreservesElements(t *testing.T) {
	shape := dist.Regular(1, fixed(30), fixed(0), 6)
	rects, err := dist.LocateRegion(shape, fixed(1), fixed(30))
	require.NoError(t, err)

	a := dist.Permute(rects, 3)
	b := dist.Permute(rects, 3)
	require.Equal(t, a, b, "same rank must yield the same permutation")
	require.ElementsMatch(t, rects, a)
}

func TestPermuteSingleElementNoop(t *testing.T) {
	rects := []dist.Rect{{Lo: fixed(1), Hi: fixed(1), Owner: 0}}
	require.Equal(t, rects, dist.Permute(rects, 7))
}

func TestFromDescriptorMirrorsFields(t *testing.T) {
	d := &descr.Descriptor{
		NDim:   2,
		Dims:   fixed(10, 10),
		NBlock: fixed(2, 2),
		MapC:   [descr.MaxDim][]int64{{1, 6}, {1, 6}},
	}
	shape := dist.FromDescriptor(d)
	require.Equal(t, d.NDim, shape.NDim)
	require.Equal(t, d.Dims, shape.Dims)
	require.Equal(t, d.MapC, shape.MapC)
}
