package main

import (
	"runtime/debug"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/telemetry-shipper/internal/logging"
)

var goMemLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "telemetry_shipper_memory_gomemlimit_bytes",
	Help: "GOMEMLIMIT in effect after startup",
})

func init() {
	prometheus.MustRegister(goMemLimitBytes)
}

// applyMemoryLimit sets GOMEMLIMIT to ratio of the cgroup limit. Outside a
// container, or with ratio zero, the runtime default is kept.
func applyMemoryLimit(ratio float64) {
	if ratio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(ratio),
			memlimit.WithProvider(memlimit.FromCgroup),
		)
		if err != nil {
			logging.Debug("memory limit not applied", logging.F("error", err.Error()))
		} else if limit > 0 {
			logging.Info("memory limit applied", logging.F("gomemlimit_bytes", limit, "ratio", ratio))
		}
	}
	goMemLimitBytes.Set(float64(debug.SetMemoryLimit(-1)))
}
