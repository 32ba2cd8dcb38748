package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/prover-orchestrator/metrics"
	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// Tree labels used by MergesTotal.
const (
	treeTx          = "tx"
	treeBlockMerge  = "block_merge"
	treeBlockParity = "block_parity"
	treeEpochParity = "epoch_parity"
)

// Metrics holds orchestrator-level metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *metrics.ComponentRegistry

	CircuitRequests *prometheus.CounterVec
	CircuitDuration *prometheus.HistogramVec
	MergesTotal     *prometheus.CounterVec
	EpochsTotal     *prometheus.CounterVec
	BlocksTotal     *prometheus.CounterVec
	ActiveEpoch     prometheus.Gauge
	TxsAdded        prometheus.Counter
}

// NewMetrics creates orchestrator metrics on the shared registry.
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("orchestrator", "")

	return &Metrics{
		registry: reg,

		CircuitRequests: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_requests_total",
			Help: "Circuit requests by circuit kind and outcome",
		}, []string{"circuit", "outcome"}),

		CircuitDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circuit_duration_seconds",
			Help:    "Time spent waiting for a circuit proof",
			Buckets: metrics.DurationBuckets,
		}, []string{"circuit"}),

		MergesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "merges_total",
			Help: "Merge requests issued per tree",
		}, []string{"tree"}),

		EpochsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "epochs_total",
			Help: "Epochs by outcome",
		}, []string{"outcome"}),

		BlocksTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_total",
			Help: "Blocks by outcome",
		}, []string{"outcome"}),

		ActiveEpoch: reg.NewGauge(prometheus.GaugeOpts{
			Name: "active_epoch",
			Help: "Number of the epoch currently being proved",
		}),

		TxsAdded: reg.NewCounter(prometheus.CounterOpts{
			Name: "txs_added_total",
			Help: "Transactions accepted into a block",
		}),
	}
}

// RecordCircuit records one finished circuit request.
func (m *Metrics) RecordCircuit(kind circuits.Kind, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.CircuitRequests.WithLabelValues(kind.String(), outcome).Inc()
	m.CircuitDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
}

// RecordMerge records a merge request issued in tree.
func (m *Metrics) RecordMerge(tree string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(tree).Inc()
}

// RecordEpoch records an epoch lifecycle event (started, completed, failed, discarded).
func (m *Metrics) RecordEpoch(outcome string, number uint64) {
	if m == nil {
		return
	}
	m.EpochsTotal.WithLabelValues(outcome).Inc()
	if outcome == "started" {
		m.ActiveEpoch.Set(float64(number))
	}
}

// RecordBlock records a block lifecycle event (started, completed, failed).
func (m *Metrics) RecordBlock(outcome string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(outcome).Inc()
}

// RecordTx records a transaction accepted into a block.
func (m *Metrics) RecordTx() {
	if m == nil {
		return
	}
	m.TxsAdded.Inc()
}
