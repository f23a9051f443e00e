// Package observability holds the Prometheus collectors for ledger activity.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects ledger metrics on its own registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	transactions *prometheus.CounterVec
	shortfall    *prometheus.CounterVec
	bulkRolls    *prometheus.HistogramVec
}

// NewMetrics initialises the registry and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_roll_transitions_total",
		Help: "Roll state transitions attempted, partitioned by operation and result.",
	}, []string{"op", "result"})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_transactions_total",
		Help: "Ledger transactions created, partitioned by type.",
	}, []string{"type"})
	shortfall := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_allocation_shortfall_rolls_total",
		Help: "Rolls requested by bulk operations that were not in stock.",
	}, []string{"op"})
	bulkRolls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depot_bulk_rolls",
		Help:    "Rolls moved per bulk operation.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	}, []string{"op"})
	registry.MustRegister(transitions, transactions, shortfall, bulkRolls)
	return &Metrics{
		registry:     registry,
		transitions:  transitions,
		transactions: transactions,
		shortfall:    shortfall,
		bulkRolls:    bulkRolls,
	}
}

// ObserveTransition records one roll transition attempt.
func (m *Metrics) ObserveTransition(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.transitions.WithLabelValues(op, result).Inc()
}

// ObserveTransaction records a created ledger transaction.
func (m *Metrics) ObserveTransaction(txType string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(txType).Inc()
}

// ObserveBulk records the rolls moved and missing for one bulk operation.
func (m *Metrics) ObserveBulk(op string, moved, shortfall int) {
	if m == nil {
		return
	}
	m.bulkRolls.WithLabelValues(op).Observe(float64(moved))
	if shortfall > 0 {
		m.shortfall.WithLabelValues(op).Add(float64(shortfall))
	}
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Gatherer exposes the registry for scraping or dumping.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// Summary renders every counter series as "name{labels} value" lines, used
// by the CLI to print a run's metrics.
func (m *Metrics) Summary() ([]string, error) {
	families, err := m.Gatherer().Gather()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := ""
			for i, lp := range metric.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += lp.GetName() + "=" + strconv.Quote(lp.GetValue())
			}
			var value float64
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				value = float64(metric.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, mf.GetName()+"{"+labels+"} "+strconv.FormatFloat(value, 'f', -1, 64))
		}
	}
	return out, nil
}
