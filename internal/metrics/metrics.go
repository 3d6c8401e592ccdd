// Package metrics holds the accounting struct of the data model (§3):
// bytes transferred per operation kind, operation counts, and current/peak
// local bytes held in arrays. Counters are exported through
// github.com/prometheus/client_golang, paired the way Voskan/arena-cache
// pairs zap logging with Prometheus metrics for its shard accounting.
//
// Each Runtime (one per simulated process) gets its own registry so that
// multiple peers can run in a single test binary without colliding on
// global Prometheus collector names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Accounting is the process-local counters singleton described in the data
// model's "Process-local globals" paragraph.
type Accounting struct {
	registry *prometheus.Registry

	BytesPut      prometheus.Counter
	BytesPutLocal prometheus.Counter
	BytesGet      prometheus.Counter
	BytesAcc      prometheus.Counter
	OpsPut        prometheus.Counter
	OpsGet        prometheus.Counter
	OpsAcc        prometheus.Counter
	OpsScatter    prometheus.Counter
	OpsGather     prometheus.Counter
	OpsReadInc    prometheus.Counter
	CurrentBytes  prometheus.Gauge
	PeakBytes     prometheus.Gauge

	peak int64
	cur  int64
}

// New builds a fresh Accounting with its own registry, labeled by the
// calling process's rank so metrics from several simulated peers in one
// binary stay distinguishable if ever scraped together.
func New(rank int) *Accounting {
	reg := prometheus.NewRegistry()
	mk := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"rank": itoa(rank)},
		})
		reg.MustRegister(c)
		return c
	}
	mkGauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"rank": itoa(rank)},
		})
		reg.MustRegister(g)
		return g
	}
	return &Accounting{
		registry:      reg,
		BytesPut:      mk("ga_bytes_put_total", "bytes written by put"),
		BytesPutLocal: mk("ga_bytes_put_local_total", "bytes written by put to a local target (xport.Transport.IsLocal)"),
		BytesGet:      mk("ga_bytes_get_total", "bytes read by get"),
		BytesAcc:      mk("ga_bytes_acc_total", "bytes accumulated"),
		OpsPut:        mk("ga_ops_put_total", "put calls"),
		OpsGet:        mk("ga_ops_get_total", "get calls"),
		OpsAcc:        mk("ga_ops_acc_total", "acc calls"),
		OpsScatter:    mk("ga_ops_scatter_total", "scatter calls"),
		OpsGather:     mk("ga_ops_gather_total", "gather calls"),
		OpsReadInc:    mk("ga_ops_read_inc_total", "read_inc calls"),
		CurrentBytes:  mkGauge("ga_current_bytes", "local bytes currently held in arrays"),
		PeakBytes:     mkGauge("ga_peak_bytes", "peak local bytes held in arrays"),
	}
}

// Registry exposes the Prometheus registry for an HTTP handler to serve.
func (a *Accounting) Registry() *prometheus.Registry { return a.registry }

// GrowLocal records size_bytes more local storage allocated to this
// process (on create/duplicate) and updates the peak gauge.
func (a *Accounting) GrowLocal(size int64) {
	a.cur += size
	a.CurrentBytes.Set(float64(a.cur))
	if a.cur > a.peak {
		a.peak = a.cur
		a.PeakBytes.Set(float64(a.peak))
	}
}

// ShrinkLocal records size_bytes less local storage (on destroy).
func (a *Accounting) ShrinkLocal(size int64) {
	a.cur -= size
	a.CurrentBytes.Set(float64(a.cur))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
