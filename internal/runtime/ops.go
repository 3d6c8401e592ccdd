package garuntime

import (
	"unsafe"

	"github.com/pgas/ga/internal/access"
	"github.com/pgas/ga/internal/descr"
	"github.com/pgas/ga/internal/gaerr"
)

func (r *Runtime) descriptor(op string, handle int) (*descr.Descriptor, error) {
	d := r.table.Get(handle)
	if d == nil {
		return nil, gaerr.InvalidHandle(op, handle)
	}
	return d, nil
}

// Put is put(handle, lo, hi, buf, ld).
func (r *Runtime) Put(handle int, lo, hi [descr.MaxDim]int64, src unsafe.Pointer, srcLd [descr.MaxDim]int64) error {
	d, err := r.descriptor("put", handle)
	if err != nil {
		return err
	}
	return access.Put(d, r.xp, r.acct, lo, hi, src, srcLd, r.markFenceTarget)
}

// Get is get(handle, lo, hi, buf, ld).
func (r *Runtime) Get(handle int, lo, hi [descr.MaxDim]int64, dst unsafe.Pointer, dstLd [descr.MaxDim]int64) error {
	d, err := r.descriptor("get", handle)
	if err != nil {
		return err
	}
	return access.Get(d, r.xp, r.acct, lo, hi, dst, dstLd)
}

// Acc is acc(handle, lo, hi, buf, ld, alpha).
func (r *Runtime) Acc(handle int, lo, hi [descr.MaxDim]int64, src unsafe.Pointer, srcLd [descr.MaxDim]int64, alpha complex128) error {
	d, err := r.descriptor("acc", handle)
	if err != nil {
		return err
	}
	return access.Acc(d, r.xp, r.acct, lo, hi, src, srcLd, alpha, r.markFenceTarget)
}

// Scatter is scatter(handle, vals, subs, n).
func (r *Runtime) Scatter(handle int, values unsafe.Pointer, subs [][descr.MaxDim]int64) error {
	d, err := r.descriptor("scatter", handle)
	if err != nil {
		return err
	}
	return access.Scatter(d, r.xp, r.acct, values, subs, r.markFenceTarget)
}

// Gather is gather(handle, vals, subs, n).
func (r *Runtime) Gather(handle int, values unsafe.Pointer, subs [][descr.MaxDim]int64) error {
	d, err := r.descriptor("gather", handle)
	if err != nil {
		return err
	}
	return access.Gather(d, r.xp, r.acct, values, subs)
}

// ScatterAcc is scatter_acc(handle, vals, subs, n, alpha).
func (r *Runtime) ScatterAcc(handle int, values unsafe.Pointer, subs [][descr.MaxDim]int64, alpha complex128) error {
	d, err := r.descriptor("scatter_acc", handle)
	if err != nil {
		return err
	}
	return access.ScatterAcc(d, r.xp, r.acct, values, subs, alpha, r.markFenceTarget)
}

// ReadInc is read_inc(handle, subs, inc).
func (r *Runtime) ReadInc(handle int, sub [descr.MaxDim]int64, inc int64) (int64, error) {
	d, err := r.descriptor("read_inc", handle)
	if err != nil {
		return 0, err
	}
	return access.ReadInc(d, r.xp, r.acct, sub, inc)
}

// Fill is fill(handle, value): every process writes value into its own
// owned patch, a local-only operation (§5, supplemented from
// original_source's nga_fill).
func (r *Runtime) Fill(handle int, value unsafe.Pointer) error {
	d, err := r.descriptor("fill", handle)
	if err != nil {
		return err
	}
	return access.FillLocal(d, r.mg.NodeID(), value)
}

// Zero is zero(handle): fill with the element type's zero value.
func (r *Runtime) Zero(handle int) error {
	d, err := r.descriptor("zero", handle)
	if err != nil {
		return err
	}
	return access.ZeroLocal(d, r.mg.NodeID())
}

// Scale is scale(handle, alpha): multiplies every owned element in place.
func (r *Runtime) Scale(handle int, alpha complex128) error {
	d, err := r.descriptor("scale", handle)
	if err != nil {
		return err
	}
	return access.ScaleLocal(d, r.mg.NodeID(), alpha)
}

// Access is access(handle, lo, hi): a direct local pointer, legal only if
// this process owns the whole patch.
func (r *Runtime) Access(handle int, lo, hi [descr.MaxDim]int64) (access.Window, error) {
	d, err := r.descriptor("access", handle)
	if err != nil {
		return access.Window{}, err
	}
	return access.Access(d, r.mg.NodeID(), lo, hi)
}

// Release is release(handle, window): a no-op by contract, kept for
// symmetry with Access.
func (r *Runtime) Release(w access.Window) { access.Release(w) }
