package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). It does not require the
// Prometheus client library; metrics are formatted manually.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		uptimeSeconds := time.Since(collector.startTime).Seconds()

		writeMetric(w, "avatarsync_runs_total",
			"Total number of completed appearance pipeline runs.",
			"counter", stats.TotalRuns)

		writeMetric(w, "avatarsync_partial_runs_total",
			"Total number of runs that completed with at least one degraded stage.",
			"counter", stats.PartialRuns)

		writeMetric(w, "avatarsync_layer_cache_hits_total",
			"Total number of bake-layer cache hits.",
			"counter", stats.LayerCacheHits)

		writeMetric(w, "avatarsync_layer_cache_misses_total",
			"Total number of bake-layer cache misses.",
			"counter", stats.LayerCacheMisses)

		writeMetricFloat(w, "avatarsync_layer_cache_hit_rate",
			"Bake-layer cache hit rate percentage.",
			"gauge", stats.LayerCacheHitRate)

		writeMetric(w, "avatarsync_active_runs",
			"Number of appearance pipeline runs currently in progress.",
			"gauge", stats.ActiveRuns)

		writeMetric(w, "avatarsync_last_serial",
			"The SetAppearance serial number most recently published.",
			"gauge", int64(stats.LastSerial))

		writeMetricFloat(w, "avatarsync_uptime_seconds",
			"Number of seconds since the service started.",
			"gauge", uptimeSeconds)

		writeCounterSet(w, "avatarsync_errors_total",
			"Total number of errors by stage and error kind.",
			collector.Errors())

		writeHistogramSet(w, "avatarsync_run_duration_seconds",
			"End-to-end appearance run duration in seconds, by force-rebake flag.",
			collector.RunDuration())

		writeCounterSet(w, "avatarsync_stage_outcomes_total",
			"Total stage invocations per stage and outcome status.",
			collector.StageOutcome())

		writeGaugeSet(w, "avatarsync_breaker_state",
			"Circuit breaker state per named breaker (0=closed, 1=open, 2=half-open).",
			collector.BreakerState())

		writeHistogramSet(w, "avatarsync_stage_duration_seconds",
			"Per-stage execution time in seconds.",
			collector.StageTime())
	}
}

// header emits the HELP/TYPE preamble for one metric family.
func header(w http.ResponseWriter, name, help, metricType string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
}

// writeMetric writes a single unlabeled integer metric.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	header(w, name, help, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single unlabeled float64 metric.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	header(w, name, help, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// writeCounterSet writes a labeled counter family.
func writeCounterSet(w http.ResponseWriter, name, help string, cs *counterSet) {
	points := cs.snapshot()
	if len(points) == 0 {
		return
	}
	header(w, name, help, "counter")
	for _, p := range points {
		fmt.Fprintf(w, "%s%s %d\n", name, p.labels.render(), p.value)
	}
}

// writeHistogramSet writes a labeled histogram family. Bucket counts
// arrive already cumulative from snapshot; the +Inf bucket is the series
// count.
func writeHistogramSet(w http.ResponseWriter, name, help string, hs *histogramSet) {
	points := hs.snapshot()
	if len(points) == 0 {
		return
	}
	header(w, name, help, "histogram")
	for _, p := range points {
		for i, bound := range p.bounds {
			le := labelPair{name: "le", value: fmt.Sprintf("%g", bound)}
			fmt.Fprintf(w, "%s_bucket%s %d\n", name, p.labels.render(le), p.cumulative[i])
		}
		inf := labelPair{name: "le", value: "+Inf"}
		fmt.Fprintf(w, "%s_bucket%s %d\n", name, p.labels.render(inf), p.count)
		fmt.Fprintf(w, "%s_sum%s %g\n", name, p.labels.render(), p.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", name, p.labels.render(), p.count)
	}
}

// writeGaugeSet writes a labeled gauge family.
func writeGaugeSet(w http.ResponseWriter, name, help string, gs *gaugeSet) {
	points := gs.snapshot()
	if len(points) == 0 {
		return
	}
	header(w, name, help, "gauge")
	for _, p := range points {
		fmt.Fprintf(w, "%s%s %g\n", name, p.labels.render(), p.value)
	}
}
