package access_test

import (
	"testing"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pgas/ga/internal/access"
	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/dist"
	"github.com/pgas/ga/internal/metrics"
	"github.com/pgas/ga/internal/xport"
)

// newSinglePeerArray builds a one-process array descriptor backed by a
// real Loopback-allocated region, bypassing internal/runtime so these
// tests exercise the access engine directly against a known layout.
func newSinglePeerArray(t *testing.T, et descr.ElemType, dims []int64) (*descr.Descriptor, *xport.Loopback) {
	t.Helper()
	g := xport.NewGroup(1)
	p := g.Peer(0)

	ndim := len(dims)
	var fdims [descr.MaxDim]int64
	copy(fdims[:ndim], dims)

	shape := dist.Regular(ndim, fdims, [descr.MaxDim]int64{}, 1)

	d := &descr.Descriptor{
		Active:   true,
		ElemType: et,
		ElemSize: et.Size(),
		NDim:     ndim,
		Dims:     shape.Dims,
		NBlock:   shape.NBlock,
		MapC:     shape.MapC,
		Scale:    shape.Scale,
	}

	coords, ok := dist.BlockCoordsFromRank(shape, 0)
	require.True(t, ok)
	lo, hi := dist.BlockBounds(shape, coords)
	d.Lo = lo
	localBytes := int64(d.ElemSize)
	for k := 0; k < ndim; k++ {
		d.Chunk[k] = hi[k] - lo[k] + 1
		localBytes *= d.Chunk[k]
	}
	d.SizeBytes = localBytes

	bases, err := p.SymmetricAlloc(int(localBytes))
	require.NoError(t, err)
	d.BasePtr = bases

	return d, p
}

func int64Ptr(v []int64) unsafe.Pointer { return unsafe.Pointer(&v[0]) }

func TestPutGetSinglePeer(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Int64, []int64{4, 4})
	acct := metrics.New(0)

	buf := make([]int64, 16)
	for i := range buf {
		buf[i] = int64(i + 1)
	}
	lo := [descr.MaxDim]int64{1, 1}
	hi := [descr.MaxDim]int64{4, 4}
	ld := [descr.MaxDim]int64{4, 4}

	require.NoError(t, access.Put(d, p, acct, lo, hi, int64Ptr(buf), ld, nil))

	out := make([]int64, 16)
	require.NoError(t, access.Get(d, p, acct, lo, hi, int64Ptr(out), ld))
	require.Equal(t, buf, out)
}

func TestPutTracksLocalBytesViaIsLocal(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Int64, []int64{4})
	acct := metrics.New(0)

	buf := []int64{1, 2, 3, 4}
	lo := [descr.MaxDim]int64{1}
	hi := [descr.MaxDim]int64{4}
	ld := [descr.MaxDim]int64{4}

	require.NoError(t, access.Put(d, p, acct, lo, hi, int64Ptr(buf), ld, nil))

	// A single-peer Loopback's only owner is itself, so IsLocal(owner) is
	// true and every byte put should also be counted as local.
	require.True(t, p.IsLocal(0))
	require.Equal(t, testutil.ToFloat64(acct.BytesPut), testutil.ToFloat64(acct.BytesPutLocal))
	require.Equal(t, float64(4*descr.Int64.Size()), testutil.ToFloat64(acct.BytesPutLocal))
}

func TestAccAccumulates(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Float64, []int64{4})
	acct := metrics.New(0)

	require.NoError(t, access.ZeroLocal(d, 0))

	one := []float64{1, 1, 1, 1}
	lo := [descr.MaxDim]int64{1}
	hi := [descr.MaxDim]int64{4}
	ld := [descr.MaxDim]int64{4}

	for i := 0; i < 3; i++ {
		require.NoError(t, access.Acc(d, p, acct, lo, hi, unsafe.Pointer(&one[0]), ld, complex(1, 0), nil))
	}

	out := make([]float64, 4)
	require.NoError(t, access.Get(d, p, acct, lo, hi, unsafe.Pointer(&out[0]), ld))
	for _, v := range out {
		require.Equal(t, 3.0, v)
	}
}

func TestScatterGatherSinglePeer(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Int64, []int64{10})
	acct := metrics.New(0)

	subs := [][descr.MaxDim]int64{{2}, {5}, {9}}
	values := []int64{20, 50, 90}
	require.NoError(t, access.Scatter(d, p, acct, unsafe.Pointer(&values[0]), subs, nil))

	got := make([]int64, 3)
	require.NoError(t, access.Gather(d, p, acct, unsafe.Pointer(&got[0]), subs))
	require.Equal(t, values, got)
}

func TestScatterAccAddsInsteadOfOverwriting(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Int64, []int64{4})
	acct := metrics.New(0)
	require.NoError(t, access.ZeroLocal(d, 0))

	subs := [][descr.MaxDim]int64{{1}, {1}}
	values := []int64{5, 5}
	require.NoError(t, access.ScatterAcc(d, p, acct, unsafe.Pointer(&values[0]), subs, complex(1, 0), nil))

	got := make([]int64, 1)
	require.NoError(t, access.Gather(d, p, acct, unsafe.Pointer(&got[0]), [][descr.MaxDim]int64{{1}}))
	require.Equal(t, int64(10), got[0])
}

func TestReadIncSinglePeer(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Int64, []int64{1})
	acct := metrics.New(0)
	require.NoError(t, access.ZeroLocal(d, 0))

	old, err := access.ReadInc(d, p, acct, [descr.MaxDim]int64{1}, 5)
	require.NoError(t, err)
	require.Equal(t, int64(0), old)

	old, err = access.ReadInc(d, p, acct, [descr.MaxDim]int64{1}, 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), old)
}

func TestReadIncRejectsNonIntegerArray(t *testing.T) {
	d, p := newSinglePeerArray(t, descr.Float64, []int64{1})
	acct := metrics.New(0)

	_, err := access.ReadInc(d, p, acct, [descr.MaxDim]int64{1}, 1)
	require.Error(t, err)
}

func TestAccessWindowMatchesOwnedPatch(t *testing.T) {
	d, _ := newSinglePeerArray(t, descr.Int64, []int64{4, 4})

	w, err := access.Access(d, 0, d.Lo, d.Hi())
	require.NoError(t, err)
	require.NotNil(t, w.Ptr)
	require.Equal(t, d.BasePtr[0], w.Ptr)
	require.Equal(t, d.Chunk, w.Ld)
}

func TestAccessRejectsPartialPatch(t *testing.T) {
	d, _ := newSinglePeerArray(t, descr.Int64, []int64{4, 4})

	badHi := d.Hi()
	badHi[0]++
	_, err := access.Access(d, 0, d.Lo, badHi)
	require.Error(t, err)
}

func TestFillLocalWritesEveryElement(t *testing.T) {
	d, _ := newSinglePeerArray(t, descr.Float64, []int64{3, 3})

	v := 7.5
	require.NoError(t, access.FillLocal(d, 0, unsafe.Pointer(&v)))

	w, err := access.Access(d, 0, d.Lo, d.Hi())
	require.NoError(t, err)
	n := int(d.Chunk[0] * d.Chunk[1])
	got := unsafe.Slice((*float64)(w.Ptr), n)
	for _, x := range got {
		require.Equal(t, 7.5, x)
	}
}

func TestScaleLocalMultipliesInPlace(t *testing.T) {
	d, _ := newSinglePeerArray(t, descr.Float64, []int64{2})

	v := 3.0
	require.NoError(t, access.FillLocal(d, 0, unsafe.Pointer(&v)))
	require.NoError(t, access.ScaleLocal(d, 0, complex(2, 0)))

	w, err := access.Access(d, 0, d.Lo, d.Hi())
	require.NoError(t, err)
	got := unsafe.Slice((*float64)(w.Ptr), 2)
	for _, x := range got {
		require.Equal(t, 6.0, x)
	}
}
