package ga

import (
	"unsafe"

	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/gaerr"
)

// Numeric is the constraint on every type a global array may hold — the
// element-type enumeration of §6, expressed as a Go type set so the typed
// transfer functions below are generic rather than duplicated per type
// (the teacher's Pool[T any] style, narrowed here to a concrete type set
// since the wire layout depends on knowing which of the three element
// types T is).
type Numeric interface {
	~int64 | ~float64 | ~complex128
}

func elemTypeOf[T Numeric]() descr.ElemType {
	var zero T
	switch any(zero).(type) {
	case int64:
		return descr.Int64
	case float64:
		return descr.Float64
	case complex128:
		return descr.Complex128
	default:
		return descr.Int64
	}
}

func toComplex128[T Numeric](v T) complex128 {
	switch x := any(v).(type) {
	case int64:
		return complex(float64(x), 0)
	case float64:
		return complex(x, 0)
	case complex128:
		return x
	default:
		return 0
	}
}

func ptrOf[T any](s []T) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

// checkType rejects a typed call whose T doesn't match the array's stored
// element type — a Go-API-level check with no analogue in the reference
// C implementation (there, void* callers simply reinterpret bytes; here
// the generic signature lets us catch the mistake before it corrupts
// memory).
func checkType[T Numeric](p *Process, op string, h Handle) error {
	info, err := Inquire(p, h)
	if err != nil {
		return err
	}
	if want := elemTypeOf[T](); want != info.Type {
		return gaerr.InvalidArgument(op, "element type mismatch, array holds "+info.Type.String(), want.String())
	}
	return nil
}

func fixedSubs(subs [][]int64) [][descr.MaxDim]int64 {
	out := make([][descr.MaxDim]int64, len(subs))
	for i, s := range subs {
		out[i], _ = fixedDims(s)
	}
	return out
}

// Put is put(handle, lo, hi, buf, ld): writes the caller's buffer (leading
// dimensions ld, first dimension varying fastest) into the global array's
// patch [lo,hi].
func Put[T Numeric](p *Process, h Handle, lo, hi []int64, buf []T, ld []int64) error {
	if err := checkType[T](p, "put", h); err != nil {
		return err
	}
	l, _ := fixedDims(lo)
	hh, _ := fixedDims(hi)
	srcLd, _ := fixedDims(ld)
	return p.rt.Put(int(h), l, hh, ptrOf(buf), srcLd)
}

// Get is get(handle, lo, hi, buf, ld): the symmetric read, synchronous with
// respect to buf.
func Get[T Numeric](p *Process, h Handle, lo, hi []int64, buf []T, ld []int64) error {
	if err := checkType[T](p, "get", h); err != nil {
		return err
	}
	l, _ := fixedDims(lo)
	hh, _ := fixedDims(hi)
	dstLd, _ := fixedDims(ld)
	return p.rt.Get(int(h), l, hh, ptrOf(buf), dstLd)
}

// Acc is acc(handle, lo, hi, buf, ld, alpha): dst += alpha*buf at every
// owner, atomic with respect to concurrent accumulates from other
// initiators.
func Acc[T Numeric](p *Process, h Handle, lo, hi []int64, buf []T, ld []int64, alpha T) error {
	if err := checkType[T](p, "acc", h); err != nil {
		return err
	}
	l, _ := fixedDims(lo)
	hh, _ := fixedDims(hi)
	srcLd, _ := fixedDims(ld)
	return p.rt.Acc(int(h), l, hh, ptrOf(buf), srcLd, toComplex128(alpha))
}

// Scatter is scatter(handle, vals, subs, n): values[k] is written to the
// element at subs[k].
func Scatter[T Numeric](p *Process, h Handle, values []T, subs [][]int64) error {
	if err := checkType[T](p, "scatter", h); err != nil {
		return err
	}
	return p.rt.Scatter(int(h), ptrOf(values), fixedSubs(subs))
}

// Gather is gather(handle, vals, subs, n): the inverse read.
func Gather[T Numeric](p *Process, h Handle, values []T, subs [][]int64) error {
	if err := checkType[T](p, "gather", h); err != nil {
		return err
	}
	return p.rt.Gather(int(h), ptrOf(values), fixedSubs(subs))
}

// ScatterAcc is scatter_acc(handle, vals, subs, n, alpha): accumulates
// instead of overwriting.
func ScatterAcc[T Numeric](p *Process, h Handle, values []T, subs [][]int64, alpha T) error {
	if err := checkType[T](p, "scatter_acc", h); err != nil {
		return err
	}
	return p.rt.ScatterAcc(int(h), ptrOf(values), fixedSubs(subs), toComplex128(alpha))
}

// ReadInc is read_inc(handle, subs, inc) -> old_value. Legal only on
// integer-typed arrays.
func ReadInc(p *Process, h Handle, sub []int64, inc int64) (int64, error) {
	s, _ := fixedDims(sub)
	return p.rt.ReadInc(int(h), s, inc)
}

// Fill is fill(handle, value): every process writes value into its own
// owned patch, a local-only operation (supplemented from original_source's
// nga_fill, §5).
func Fill[T Numeric](p *Process, h Handle, value T) error {
	if err := checkType[T](p, "fill", h); err != nil {
		return err
	}
	v := value
	return p.rt.Fill(int(h), unsafe.Pointer(&v))
}

// Zero is zero(handle): fill with the element type's zero value (GA_Zero).
func Zero(p *Process, h Handle) error { return p.rt.Zero(int(h)) }

// Scale is scale(handle, alpha): multiplies every owned element in place
// (GA_Scale).
func Scale[T Numeric](p *Process, h Handle, alpha T) error {
	if err := checkType[T](p, "scale", h); err != nil {
		return err
	}
	return p.rt.Scale(int(h), toComplex128(alpha))
}

// Window is a direct view of a caller-owned patch returned by Access: Data
// is a slice over the local storage backing the patch, Ld its leading
// dimensions.
type Window[T Numeric] struct {
	Data []T
	Ld   []int64
}

// Access implements access(handle, lo, hi): a direct local view of
// [lo,hi], legal only if the calling process owns the whole patch. Release
// is a no-op included for symmetry (§4.5.6, §9 "Patch access borrow
// tracking").
func Access[T Numeric](p *Process, h Handle, lo, hi []int64) (Window[T], error) {
	if err := checkType[T](p, "access", h); err != nil {
		return Window[T]{}, err
	}
	l, _ := fixedDims(lo)
	hh, _ := fixedDims(hi)
	w, err := p.rt.Access(int(h), l, hh)
	if err != nil {
		return Window[T]{}, err
	}
	info, _ := Inquire(p, h)
	// span covers the patch's last element under the chunk's leading
	// dimensions, which for a sub-patch exceeds its element count.
	n, span, stride := int64(1), int64(1), int64(1)
	for k := 0; k < info.NDim; k++ {
		n *= hh[k] - l[k] + 1
		span += (hh[k] - l[k]) * stride
		stride *= w.Ld[k]
	}
	var data []T
	if n > 0 {
		data = unsafe.Slice((*T)(w.Ptr), int(span))
	}
	return Window[T]{Data: data, Ld: w.Ld[:info.NDim]}, nil
}

// Release releases a Window acquired via Access. A no-op by contract.
func Release[T Numeric](w Window[T]) {}
