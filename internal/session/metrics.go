package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/splitbill/internal/bill"
)

// Metrics are the Prometheus collectors for bill sessions.
type Metrics struct {
	sessions    prometheus.Counter
	operations  *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	scans       *prometheus.CounterVec
	scanSeconds prometheus.Histogram
	parsedItems prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splitbill_sessions_created_total",
			Help: "Bills started.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_operations_total",
			Help: "Bill operations by name and outcome.",
		}, []string{"operation", "result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_wizard_rejections_total",
			Help: "Wizard moves refused by a step gate.",
		}, []string{"step"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_scans_total",
			Help: "Receipt scans by outcome.",
		}, []string{"result"}),
		scanSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitbill_scan_duration_seconds",
			Help:    "Time spent recognizing receipt text.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		parsedItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitbill_scan_items",
			Help:    "Items found per scanned receipt.",
			Buckets: prometheus.LinearBuckets(1, 5, 8),
		}),
	}
	reg.MustRegister(m.sessions, m.operations, m.rejected, m.scans, m.scanSeconds, m.parsedItems)
	return m
}

func (m *Metrics) observeOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		var verr *bill.ValidationError
		if errors.As(err, &verr) {
			result = "rejected"
			m.rejected.WithLabelValues(string(verr.Step)).Inc()
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observeScan(seconds float64, items int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.scans.WithLabelValues(result).Inc()
	m.scanSeconds.Observe(seconds)
	m.parsedItems.Observe(float64(items))
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}
