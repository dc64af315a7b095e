package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// --- Core Processing ---
	CoreTxApplied  *prometheus.CounterVec
	CoreTxRejected *prometheus.CounterVec
	CoreTxDuration *prometheus.HistogramVec
	CoreJournals   *prometheus.CounterVec
	CoreStateHashDur prometheus.Histogram
	CoreSequence     prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	QueryFreshnessLag   *prometheus.HistogramVec
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	TxSequenceGap         *prometheus.CounterVec
	TxOutOfOrder          *prometheus.CounterVec
	BlockHeightRegression prometheus.Counter

	// --- Trading ---
	TradesExecuted     prometheus.Counter
	TradeVolumeKWH     prometheus.Counter
	TradeFeesCollected prometheus.Counter
	ListedEnergyTotal  prometheus.Gauge
	ActiveListings     prometheus.Gauge

	// --- Certification ---
	CertificationApplications prometheus.Counter
	ProducersCertified        prometheus.Counter
	ProducersRejected         prometheus.Counter
	EnergyMinted              prometheus.Counter
	EnergyBurned              prometheus.Counter

	// --- Persistence ---
	PersistTxWritten       prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayTxTotal     prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreTxApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_core_tx_applied_total",
			Help: "Transactions successfully applied by core",
		}, []string{"operation"}),

		CoreTxRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_core_tx_rejected_total",
			Help: "Transactions rejected (dedup, gap, domain error)",
		}, []string{"operation", "reason"}),

		CoreTxDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watt_core_tx_apply_duration_seconds",
			Help:    "Time to apply a single transaction in core",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watt_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watt_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"operation"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watt_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		QueryFreshnessLag: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watt_query_freshness_lag_seconds",
			Help:    "Core sequence minus projection sequence (in time)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0},
		}, []string{"endpoint"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watt_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watt_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watt_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watt_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watt_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watt_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_publish_drops_total",
			Help: "Receipts dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"operation", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watt_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		TxSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_tx_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		TxOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_tx_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		BlockHeightRegression: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_block_height_regression_total",
			Help: "Transactions carrying a lower block height than already seen",
		}),

		// Trading
		TradesExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_trades_executed_total",
			Help: "Completed energy purchases",
		}),

		TradeVolumeKWH: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_trade_volume_kwh_total",
			Help: "Total energy traded (kWh)",
		}),

		TradeFeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_trade_fees_collected_total",
			Help: "Total trading fees routed to the owner",
		}),

		ListedEnergyTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_listed_energy_kwh",
			Help: "Energy currently escrowed behind listings (kWh)",
		}),

		ActiveListings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_active_listings",
			Help: "Number of active sale listings",
		}),

		// Certification
		CertificationApplications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_certification_applications_total",
			Help: "Certification applications submitted",
		}),

		ProducersCertified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_producers_certified_total",
			Help: "Applications approved",
		}),

		ProducersRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_producers_rejected_total",
			Help: "Applications rejected",
		}),

		EnergyMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_energy_minted_kwh_total",
			Help: "Energy credited through certification (kWh)",
		}),

		EnergyBurned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_energy_burned_kwh_total",
			Help: "Energy returned to the grid through refunds (kWh)",
		}),

		// Persistence
		PersistTxWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_persist_tx_written_total",
			Help: "Transactions written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watt_persist_batch_size",
			Help:    "Transactions per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watt_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayTxTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watt_replay_tx_total",
			Help: "Transactions replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watt_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watt_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "watt_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
