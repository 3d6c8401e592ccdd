package xport

import "sync/atomic"

// fenceCounter tracks, per target, how many one-sided writes this peer has
// posted versus completed. It packs both counts into one atomic.Uint64 the
// way the teacher's poolDequeue packs head/tail indexes into one word,
// repurposed here from "pool slot occupancy" to "outstanding op count" —
// the accounting Fence()/AllFence() drain before returning.
type fenceCounter struct {
	postedCompleted atomic.Uint64
}

const counterBits = 32

func pack(posted, completed uint32) uint64 {
	return uint64(posted)<<counterBits | uint64(completed)
}

func unpack(v uint64) (posted, completed uint32) {
	const mask = 1<<counterBits - 1
	return uint32(v >> counterBits), uint32(v & mask)
}

// post records one newly issued write to this target.
func (f *fenceCounter) post() {
	f.postedCompleted.Add(1 << counterBits)
}

// complete records one completed write to this target.
func (f *fenceCounter) complete() {
	f.postedCompleted.Add(1)
}

// drained reports whether every posted write to this target has completed.
func (f *fenceCounter) drained() bool {
	posted, completed := unpack(f.postedCompleted.Load())
	return posted == completed
}

// reset zeros the counter after a successful fence.
func (f *fenceCounter) reset() {
	f.postedCompleted.Store(0)
}
