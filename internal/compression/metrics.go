package compression

import "github.com/prometheus/client_golang/prometheus"

var (
	compressionBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_compression_bytes_total",
		Help: "Bytes passed through the compressor, by algorithm and direction (in, out)",
	}, []string{"type", "direction"})

	compressionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_compression_errors_total",
		Help: "Compression and decompression failures by algorithm",
	}, []string{"type", "op"})
)

func init() {
	prometheus.MustRegister(compressionBytes)
	prometheus.MustRegister(compressionErrors)
}

func observe(t Type, in, out int) {
	compressionBytes.WithLabelValues(string(t), "in").Add(float64(in))
	compressionBytes.WithLabelValues(string(t), "out").Add(float64(out))
}
