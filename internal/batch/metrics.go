package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsQueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_batch_records_queued_total",
		Help: "Total records accepted into the processor queue",
	}, []string{"processor"})

	recordsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_batch_records_dropped_total",
		Help: "Total records dropped because the processor queue was full",
	}, []string{"processor"})

	recordsExportedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_batch_records_exported_total",
		Help: "Total records in batches the exporter accepted",
	}, []string{"processor"})

	exportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_batch_exports_total",
		Help: "Total batch exports by outcome (success, failure, timeout)",
	}, []string{"processor", "outcome"})

	exportDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemetry_shipper_batch_export_duration_seconds",
		Help:    "Time from handing a batch to the exporter until its outcome is known",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"processor"})

	batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemetry_shipper_batch_size_records",
		Help:    "Number of records per exported batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 13),
	}, []string{"processor"})

	queueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemetry_shipper_batch_queue_length",
		Help: "Records waiting in the processor queue",
	}, []string{"processor"})
)

func init() {
	prometheus.MustRegister(recordsQueuedTotal)
	prometheus.MustRegister(recordsDroppedTotal)
	prometheus.MustRegister(recordsExportedTotal)
	prometheus.MustRegister(exportsTotal)
	prometheus.MustRegister(exportDuration)
	prometheus.MustRegister(batchSize)
	prometheus.MustRegister(queueLength)
}

type processorMetrics struct {
	queued   prometheus.Counter
	dropped  prometheus.Counter
	exported prometheus.Counter
	success  prometheus.Counter
	failure  prometheus.Counter
	timeout  prometheus.Counter
	duration prometheus.Observer
	size     prometheus.Observer
	queueLen prometheus.Gauge
}

func newProcessorMetrics(name string) processorMetrics {
	return processorMetrics{
		queued:   recordsQueuedTotal.WithLabelValues(name),
		dropped:  recordsDroppedTotal.WithLabelValues(name),
		exported: recordsExportedTotal.WithLabelValues(name),
		success:  exportsTotal.WithLabelValues(name, "success"),
		failure:  exportsTotal.WithLabelValues(name, "failure"),
		timeout:  exportsTotal.WithLabelValues(name, "timeout"),
		duration: exportDuration.WithLabelValues(name),
		size:     batchSize.WithLabelValues(name),
		queueLen: queueLength.WithLabelValues(name),
	}
}
