package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// labelPair is one name="value" label on a metric series.
type labelPair struct {
	name  string
	value string
}

// labelSet is a metric series' labels, sorted by name so the same
// combination always maps to the same series.
type labelSet []labelPair

// labelsOf builds a sorted labelSet from alternating name, value args.
func labelsOf(kv ...string) labelSet {
	ls := make(labelSet, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		ls = append(ls, labelPair{name: kv[i], value: kv[i+1]})
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].name < ls[j].name })
	return ls
}

// key renders the set as a deterministic map key.
func (ls labelSet) key() string {
	var b strings.Builder
	for _, p := range ls {
		b.WriteString(p.name)
		b.WriteByte('=')
		b.WriteString(p.value)
		b.WriteByte(';')
	}
	return b.String()
}

// value returns the named label's value, or "".
func (ls labelSet) value(name string) string {
	for _, p := range ls {
		if p.name == name {
			return p.value
		}
	}
	return ""
}

// render writes the set in exposition format, e.g. {stage="publish"}.
// Extra pairs (the histogram "le" bound) are appended after the sorted
// set.
func (ls labelSet) render(extra ...labelPair) string {
	if len(ls)+len(extra) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range append(append(labelSet{}, ls...), extra...) {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", p.name, p.value)
	}
	b.WriteByte('}')
	return b.String()
}

// counterSet is a family of monotonically increasing series. Series are
// created on first increment and live forever; sync.Map fits that
// write-once, read-many shape without a global lock.
type counterSet struct {
	series sync.Map // key() -> *counterSeries
}

type counterSeries struct {
	labels labelSet
	n      atomic.Int64
}

func (cs *counterSet) inc(ls labelSet) {
	v, ok := cs.series.Load(ls.key())
	if !ok {
		v, _ = cs.series.LoadOrStore(ls.key(), &counterSeries{labels: ls})
	}
	v.(*counterSeries).n.Add(1)
}

// counterPoint is one series' snapshot.
type counterPoint struct {
	labels labelSet
	value  int64
}

func (cs *counterSet) snapshot() []counterPoint {
	var out []counterPoint
	cs.series.Range(func(_, v any) bool {
		s := v.(*counterSeries)
		out = append(out, counterPoint{labels: s.labels, value: s.n.Load()})
		return true
	})
	return out
}

// gaugeSet is a family of set-to-latest series, float-valued.
type gaugeSet struct {
	series sync.Map // key() -> *gaugeSeries
}

type gaugeSeries struct {
	labels labelSet
	bits   atomic.Uint64
}

func (gs *gaugeSet) set(ls labelSet, v float64) {
	g, ok := gs.series.Load(ls.key())
	if !ok {
		g, _ = gs.series.LoadOrStore(ls.key(), &gaugeSeries{labels: ls})
	}
	g.(*gaugeSeries).bits.Store(math.Float64bits(v))
}

type gaugePoint struct {
	labels labelSet
	value  float64
}

func (gs *gaugeSet) snapshot() []gaugePoint {
	var out []gaugePoint
	gs.series.Range(func(_, v any) bool {
		s := v.(*gaugeSeries)
		out = append(out, gaugePoint{labels: s.labels, value: math.Float64frombits(s.bits.Load())})
		return true
	})
	return out
}

// histogramSet is a family of bucketed distributions sharing one bound
// slice. Observations record into the first fitting bucket; the
// exposition's cumulative form is computed at snapshot time.
type histogramSet struct {
	bounds []float64 // sorted ascending

	mu     sync.Mutex
	series map[string]*histogramSeries
}

type histogramSeries struct {
	labels labelSet
	perBkt []int64 // same length as bounds; overflow tracked via count
	sum    float64
	count  int64
}

func newHistogramSet(bounds []float64) *histogramSet {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &histogramSet{bounds: sorted, series: make(map[string]*histogramSeries)}
}

func (hs *histogramSet) observe(ls labelSet, v float64) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	s := hs.series[ls.key()]
	if s == nil {
		s = &histogramSeries{labels: ls, perBkt: make([]int64, len(hs.bounds))}
		hs.series[ls.key()] = s
	}
	s.sum += v
	s.count++
	for i, bound := range hs.bounds {
		if v <= bound {
			s.perBkt[i]++
			break
		}
	}
}

// histogramPoint is one series' snapshot with cumulative bucket counts,
// ready for exposition.
type histogramPoint struct {
	labels     labelSet
	bounds     []float64
	cumulative []int64
	sum        float64
	count      int64
}

func (hs *histogramSet) snapshot() []histogramPoint {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	out := make([]histogramPoint, 0, len(hs.series))
	for _, s := range hs.series {
		cum := make([]int64, len(s.perBkt))
		var running int64
		for i, n := range s.perBkt {
			running += n
			cum[i] = running
		}
		out = append(out, histogramPoint{
			labels:     s.labels,
			bounds:     hs.bounds,
			cumulative: cum,
			sum:        s.sum,
			count:      s.count,
		})
	}
	return out
}

// Collector tracks live metrics with lock-free counters: an in-memory
// real-time view of appearance-run throughput, cache negotiation
// performance, and per-stage fetch/bake/upload outcomes.
type Collector struct {
	totalRuns   atomic.Int64
	partialRuns atomic.Int64

	layerCacheHits   atomic.Int64
	layerCacheMisses atomic.Int64

	activeRuns atomic.Int64
	lastSerial atomic.Uint32

	startTime time.Time

	errors       *counterSet   // stage, kind
	runDuration  *histogramSet // force_rebake
	stageOutcome *counterSet   // stage, status
	breakerState *gaugeSet     // breaker
	stageTime    *histogramSet // stage
}

// Stats is a point-in-time snapshot of the collector's counters,
// suitable for JSON serialisation and display on the status API.
type Stats struct {
	Uptime            string  `json:"uptime"`
	TotalRuns         int64   `json:"total_runs"`
	PartialRuns       int64   `json:"partial_runs"`
	LayerCacheHits    int64   `json:"layer_cache_hits"`
	LayerCacheMisses  int64   `json:"layer_cache_misses"`
	LayerCacheHitRate float64 `json:"layer_cache_hit_rate"`
	ActiveRuns        int64   `json:"active_runs"`
	LastSerial        uint32  `json:"last_serial"`
}

// runDurationBuckets are tuned for end-to-end appearance run wall time.
var runDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// stageBuckets are tuned for per-stage execution times (smaller).
var stageBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// NewCollector creates a Collector with all counters at zero and the
// start time set to now.
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		errors:       &counterSet{},
		runDuration:  newHistogramSet(runDurationBuckets),
		stageOutcome: &counterSet{},
		breakerState: &gaugeSet{},
		stageTime:    newHistogramSet(stageBuckets),
	}
}

// Record folds a completed run into the counters: whether it was partial,
// the per-layer cache hit/miss counts, and the published serial.
func (c *Collector) Record(partial bool, layerCacheHits, layerCacheMisses int, serial uint32) {
	c.totalRuns.Add(1)
	if partial {
		c.partialRuns.Add(1)
	}
	c.layerCacheHits.Add(int64(layerCacheHits))
	c.layerCacheMisses.Add(int64(layerCacheMisses))
	c.lastSerial.Store(serial)
}

// IncrementActive marks a run entering the pipeline.
func (c *Collector) IncrementActive() {
	c.activeRuns.Add(1)
}

// DecrementActive marks a run leaving the pipeline, successful or not.
func (c *Collector) DecrementActive() {
	c.activeRuns.Add(-1)
}

// Stats returns a point-in-time snapshot of all metrics.
func (c *Collector) Stats() *Stats {
	hits := c.layerCacheHits.Load()
	misses := c.layerCacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return &Stats{
		Uptime:            formatDuration(time.Since(c.startTime)),
		TotalRuns:         c.totalRuns.Load(),
		PartialRuns:       c.partialRuns.Load(),
		LayerCacheHits:    hits,
		LayerCacheMisses:  misses,
		LayerCacheHitRate: hitRate,
		ActiveRuns:        c.activeRuns.Load(),
		LastSerial:        c.lastSerial.Load(),
	}
}

// RecordError increments the error counter for a stage and error kind.
func (c *Collector) RecordError(stage, kind string) {
	c.errors.inc(labelsOf("stage", stage, "kind", kind))
}

// ObserveRunDuration records an end-to-end run duration in seconds.
func (c *Collector) ObserveRunDuration(forceRebake bool, seconds float64) {
	c.runDuration.observe(labelsOf("force_rebake", fmt.Sprintf("%t", forceRebake)), seconds)
}

// RecordStageOutcome increments the per-stage outcome counter.
func (c *Collector) RecordStageOutcome(stage, status string) {
	c.stageOutcome.inc(labelsOf("stage", stage, "status", status))
}

// SetBreakerState sets the state gauge for a named circuit breaker
// (0=closed, 1=open, 2=half-open).
func (c *Collector) SetBreakerState(breaker string, state float64) {
	c.breakerState.set(labelsOf("breaker", breaker), state)
}

// ObserveStageTime records one stage execution time in seconds.
func (c *Collector) ObserveStageTime(stage string, seconds float64) {
	c.stageTime.observe(labelsOf("stage", stage), seconds)
}

// Errors returns the error counters for exposition.
func (c *Collector) Errors() *counterSet { return c.errors }

// RunDuration returns the run-duration histograms for exposition.
func (c *Collector) RunDuration() *histogramSet { return c.runDuration }

// StageOutcome returns the stage outcome counters for exposition.
func (c *Collector) StageOutcome() *counterSet { return c.stageOutcome }

// BreakerState returns the circuit breaker gauges for exposition.
func (c *Collector) BreakerState() *gaugeSet { return c.breakerState }

// StageTime returns the stage timing histograms for exposition.
func (c *Collector) StageTime() *histogramSet { return c.stageTime }

// formatDuration renders an uptime like "1d 1h 15m"; durations under a
// minute fall back to Duration.String.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}
