// Package metrics defines the prometheus collectors for flash wear and
// configuration commits.
//
// Collectors are registered against a caller-supplied registerer so tests
// and tools can use a private registry instead of the global default.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flashkit"

// Flash counts raw device operations.
type Flash struct {
	// OpsTotal counts operations by op (read, write, erase) and status (ok, error).
	OpsTotal *prometheus.CounterVec

	// BytesTotal counts bytes moved by op (read, write).
	BytesTotal *prometheus.CounterVec

	// SectorErasesTotal counts erases per sector. This is the wear counter.
	SectorErasesTotal *prometheus.CounterVec
}

// NewFlash creates and registers the flash collectors.
func NewFlash(reg prometheus.Registerer) *Flash {
	f := promauto.With(reg)
	return &Flash{
		OpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "ops_total",
			Help:      "Flash operations by op and status",
		}, []string{"op", "status"}),
		BytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "bytes_total",
			Help:      "Bytes read from or written to flash",
		}, []string{"op"}),
		SectorErasesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "sector_erases_total",
			Help:      "Erase cycles per sector",
		}, []string{"sector"}),
	}
}

// Observe records one operation.
func (m *Flash) Observe(op string, n int, err error) {
	if m == nil {
		return
	}
	m.OpsTotal.WithLabelValues(op, status(err)).Inc()
	if err == nil && n > 0 {
		m.BytesTotal.WithLabelValues(op).Add(float64(n))
	}
}

// ObserveErase records an erase of sector.
func (m *Flash) ObserveErase(sector uint16, err error) {
	if m == nil {
		return
	}
	m.OpsTotal.WithLabelValues("erase", status(err)).Inc()
	if err == nil {
		m.SectorErasesTotal.WithLabelValues(SectorLabel(sector)).Inc()
	}
}

// SectorLabel formats a sector number the way the erase counter labels it.
func SectorLabel(sector uint16) string {
	return "0x" + strconv.FormatUint(uint64(sector), 16)
}

// Store counts configuration store activity.
type Store struct {
	// CommitsTotal counts write() outcomes by result (written, skipped, error).
	CommitsTotal *prometheus.CounterVec

	// LoadsTotal counts read() outcomes by result (ok, error).
	LoadsTotal *prometheus.CounterVec

	// Parameters is the size of the parameter table.
	Parameters prometheus.Gauge

	// CachedBytes is the number of bytes held by parameter values.
	CachedBytes prometheus.Gauge
}

// NewStore creates and registers the store collectors.
func NewStore(reg prometheus.Registerer) *Store {
	f := promauto.With(reg)
	return &Store{
		CommitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "commits_total",
			Help:      "Configuration writes by result",
		}, []string{"result"}),
		LoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "loads_total",
			Help:      "Configuration reads by result",
		}, []string{"result"}),
		Parameters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "parameters",
			Help:      "Parameters in the table",
		}),
		CachedBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "cached_bytes",
			Help:      "Bytes held by cached parameter values",
		}),
	}
}

// Commit records a write() outcome.
func (m *Store) Commit(result string) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(result).Inc()
}

// Load records a read() outcome.
func (m *Store) Load(err error) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(status(err)).Inc()
}

// Cache updates the table gauges.
func (m *Store) Cache(params, bytes int) {
	if m == nil {
		return
	}
	m.Parameters.Set(float64(params))
	m.CachedBytes.Set(float64(bytes))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
