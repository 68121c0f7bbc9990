// Package metrics exposes CAPFS daemon counters through
// github.com/prometheus/client_golang, the teacher's own direct metrics
// dependency (present in the teacher's go.mod though no single retrieved
// backend file exercises it). Both capfsmgr and capfsiod register their
// counters against a private registry and serve it over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager holds the manager daemon's counters (spec.md §4.E/§4.F traffic).
type Manager struct {
	WCommitOK       prometheus.Counter
	WCommitConflict prometheus.Counter
	CallbackUpdate  prometheus.Counter
	CallbackInval   prometheus.Counter
}

// NewManager registers and returns the manager's counter set.
func NewManager(reg *prometheus.Registry) *Manager {
	m := &Manager{
		WCommitOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_manager_wcommit_success_total",
			Help: "Number of wcommit calls that applied cleanly.",
		}),
		WCommitConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_manager_wcommit_conflict_total",
			Help: "Number of wcommit calls that lost the compare-and-swap and returned EAGAIN.",
		}),
		CallbackUpdate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_manager_callback_update_total",
			Help: "Number of update callbacks dispatched via the single-other-sharer fast path.",
		}),
		CallbackInval: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_manager_callback_invalidate_total",
			Help: "Number of invalidate callbacks dispatched to a sharer.",
		}),
	}
	reg.MustRegister(m.WCommitOK, m.WCommitConflict, m.CallbackUpdate, m.CallbackInval)
	return m
}

// DataServer holds a data server's counters (spec.md §4.A traffic).
type DataServer struct {
	PutBytes   prometheus.Counter
	GetHits    prometheus.Counter
	GetMisses  prometheus.Counter
	ZeroChunks prometheus.Counter
}

// NewDataServer registers and returns a data server's counter set.
func NewDataServer(reg *prometheus.Registry) *DataServer {
	d := &DataServer{
		PutBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_iod_put_bytes_total",
			Help: "Bytes actually written to disk by PUT (content already on disk is not rewritten).",
		}),
		GetHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_iod_get_hit_total",
			Help: "GETs served from the on-disk chunk store.",
		}),
		GetMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_iod_get_miss_total",
			Help: "GETs for a hash not present on disk.",
		}),
		ZeroChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capfs_iod_zero_chunk_total",
			Help: "GET/PUT operations short-circuited by the zero-chunk sentinel.",
		}),
	}
	reg.MustRegister(d.PutBytes, d.GetHits, d.GetMisses, d.ZeroChunks)
	return d
}

// Serve starts an HTTP server exposing reg's counters at /metrics. It
// returns immediately; the caller is responsible for the returned server's
// lifetime (close it on shutdown).
func Serve(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
