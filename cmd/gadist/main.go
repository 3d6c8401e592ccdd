// Command gadist spins up an in-process N-peer PGAS group, creates a
// global array from flags, runs a fill/put/get/sync demonstration across
// the simulated peers, and prints the resulting accounting. It exercises
// the core end to end; it is not part of the core itself (§1 "Out of
// scope": argument marshalling and CLI wrappers are thin wrappers over the
// core).
package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgas/ga"
)

// collective runs f once per rank concurrently. create, sync, and the rest
// of the collective operations rendezvous on a barrier in internal/xport
// or internal/mesg, so every peer must enter the call before any returns.
func collective(n int, f func(rank int)) {
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			f(rank)
		}(rank)
	}
	wg.Wait()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		nprocs     int
		dims       []int64
		memLimitMB int64
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "gadist",
		Short: "Demonstrate a partitioned global-array create/fill/put/get/sync cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("build logger: %w", err)
				}
				log = l
			}
			return run(cmd.OutOrStdout(), nprocs, dims, memLimitMB, log)
		},
	}

	cmd.Flags().IntVar(&nprocs, "procs", 4, "number of simulated peers")
	cmd.Flags().Int64SliceVar(&dims, "dims", []int64{8, 8}, "global array extents, one per dimension")
	cmd.Flags().Int64Var(&memLimitMB, "mem-limit-mb", -1, "per-process memory ceiling in MiB, -1 for unlimited")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable development logging")
	return cmd
}

func run(out io.Writer, nprocs int, dims []int64, memLimitMB int64, log *zap.Logger) error {
	var limitBytes int64 = -1
	if memLimitMB >= 0 {
		limitBytes = memLimitMB * 1024 * 1024
	}
	group := ga.NewGroupWithMemoryLimit(nprocs, log, limitBytes)
	defer group.Terminate()

	root := group.Process(0)

	var handle ga.Handle
	handles := make([]ga.Handle, nprocs)
	createErrs := make([]error, nprocs)
	collective(nprocs, func(rank int) {
		handles[rank], createErrs[rank] = ga.Create(group.Process(rank), ga.Float64, dims, "gadist-demo", nil)
	})
	for rank, cerr := range createErrs {
		if cerr != nil {
			return fmt.Errorf("create on rank %d: %w", rank, cerr)
		}
	}
	handle = handles[0]

	for rank := 0; rank < nprocs; rank++ {
		if err := ga.Fill(group.Process(rank), handle, 0.0); err != nil {
			return fmt.Errorf("fill on rank %d: %w", rank, err)
		}
	}

	info, err := ga.Inquire(root, handle)
	if err != nil {
		return fmt.Errorf("inquire: %w", err)
	}
	lo := make([]int64, info.NDim)
	for i := range lo {
		lo[i] = 1
	}
	n := int64(1)
	for _, d := range info.Dims {
		n *= d
	}
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = float64(i)
	}
	ld := append([]int64(nil), info.Dims...)
	if err := ga.Put(root, handle, lo, info.Dims, buf, ld); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	syncErrs := make([]error, nprocs)
	collective(nprocs, func(rank int) {
		syncErrs[rank] = ga.Sync(group.Process(rank))
	})
	for rank, serr := range syncErrs {
		if serr != nil {
			return fmt.Errorf("sync on rank %d: %w", rank, serr)
		}
	}

	readBack := make([]float64, n)
	if err := ga.Get(root, handle, lo, info.Dims, readBack, ld); err != nil {
		return fmt.Errorf("get: %w", err)
	}

	fmt.Fprintf(out, "array %q: type=%s ndim=%d dims=%v\n", "gadist-demo", info.Type, info.NDim, info.Dims)
	fmt.Fprintf(out, "round-trip ok: %v\n", equalFloat(buf, readBack))
	for rank := 0; rank < nprocs; rank++ {
		p := group.Process(rank)
		l, h, derr := ga.Distribution(p, handle, rank)
		if derr != nil {
			return fmt.Errorf("distribution: %w", derr)
		}
		fmt.Fprintf(out, "  rank %d owns lo=%v hi=%v, local bytes=%d\n", rank, l, h, ga.InquireMemory(p))
	}
	return nil
}

func equalFloat(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
