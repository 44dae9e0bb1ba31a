package metrics

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "certgen_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRows    *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec

	schemaValidations *prometheus.CounterVec

	dispatchTotal *prometheus.CounterVec
	dispatchPages *prometheus.CounterVec

	emailDispatchTotal *prometheus.CounterVec

	callbackTotal *prometheus.CounterVec

	consumerLag *prometheus.GaugeVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *slog.Logger) {
	registerOnce.Do(func() {
		ingestRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Total data-source rows ingested by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Data-source ingestion latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		schemaValidations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schema_validations_total",
				Help: "Total column schema updates by outcome",
			},
			[]string{"outcome"},
		)

		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "generation_dispatch_total",
				Help: "Total row generation dispatches by mode and result",
			},
			[]string{"mode", "result"},
		)
		dispatchPages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "generation_pages_total",
				Help: "Total row pages scanned by the dispatch pipeline",
			},
			[]string{"mode"},
		)

		emailDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "email_dispatch_total",
				Help: "Total email batches handed to the queue by mode and result",
			},
			[]string{"mode", "result"},
		)

		callbackTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "worker_callbacks_total",
				Help: "Total worker completion callbacks by kind and status",
			},
			[]string{"kind", "status"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total generation report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Generation report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRows,
			ingestLatency,
			schemaValidations,
			dispatchTotal,
			dispatchPages,
			emailDispatchTotal,
			callbackTotal,
			consumerLag,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records an ingestion with its row count.
func ObserveIngest(result string, rows int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRows != nil && rows > 0 {
		ingestRows.WithLabelValues(result).Add(float64(rows))
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSchemaValidation counts a column update by outcome.
func IncSchemaValidation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if schemaValidations != nil {
		schemaValidations.WithLabelValues(outcome).Inc()
	}
}

// AddDispatch counts row dispatch outcomes.
func AddDispatch(mode string, succeeded, failed int) {
	if mode == "" {
		mode = "unknown"
	}
	if dispatchTotal == nil {
		return
	}
	if succeeded > 0 {
		dispatchTotal.WithLabelValues(mode, resultSuccess).Add(float64(succeeded))
	}
	if failed > 0 {
		dispatchTotal.WithLabelValues(mode, resultError).Add(float64(failed))
	}
}

// IncDispatchPage counts a scanned row page.
func IncDispatchPage(mode string) {
	if mode == "" {
		mode = "unknown"
	}
	if dispatchPages != nil {
		dispatchPages.WithLabelValues(mode).Inc()
	}
}

// IncEmailDispatch counts an email batch handed to the queue.
func IncEmailDispatch(mode, result string) {
	if mode == "" {
		mode = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if emailDispatchTotal != nil {
		emailDispatchTotal.WithLabelValues(mode, result).Inc()
	}
}

// IncCallback counts a worker completion callback.
func IncCallback(kind, status string) {
	if kind == "" {
		kind = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	if callbackTotal != nil {
		callbackTotal.WithLabelValues(kind, status).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	SchemaAccepted = "accepted"
	SchemaRejected = "rejected"

	ModeGenerate = "generate"
	ModeRetry    = "retry"
	ModeSingle   = "single"

	EmailImmediate = "immediate"
	EmailScheduled = "scheduled"
)
