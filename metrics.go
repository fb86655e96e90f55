package openfhir

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Direction names a translation direction.
type Direction string

const (
	// ToOpenEHR translates FHIR resources into openEHR compositions.
	ToOpenEHR Direction = "toOpenEHR"
	// ToFHIR translates openEHR compositions into FHIR bundles.
	ToFHIR Direction = "toFHIR"
)

// unset marks an empty minimum.
const unset = math.MaxUint64

// timing accumulates translation durations in nanoseconds.
type timing struct {
	count  atomic.Uint64
	failed atomic.Uint64
	total  atomic.Uint64
	min    atomic.Uint64
	max    atomic.Uint64
}

func newTiming() *timing {
	t := &timing{}
	t.min.Store(unset)
	return t
}

func (t *timing) add(ns uint64, failed bool) {
	t.count.Add(1)
	if failed {
		t.failed.Add(1)
	}
	t.total.Add(ns)
	for cur := t.min.Load(); ns < cur && !t.min.CompareAndSwap(cur, ns); cur = t.min.Load() {
	}
	for cur := t.max.Load(); ns > cur && !t.max.CompareAndSwap(cur, ns); cur = t.max.Load() {
	}
}

func (t *timing) avg() uint64 {
	n := t.count.Load()
	if n == 0 {
		return 0
	}
	return t.total.Load() / n
}

func (t *timing) lowest() uint64 {
	if v := t.min.Load(); v != unset {
		return v
	}
	return 0
}

func (t *timing) reset() {
	t.count.Store(0)
	t.failed.Store(0)
	t.total.Store(0)
	t.min.Store(unset)
	t.max.Store(0)
}

// Metrics counts translations, template cache lookups and issues. It is
// safe for concurrent use.
type Metrics struct {
	all *timing

	cacheHits, cacheMisses atomic.Uint64

	errors, warnings, infos atomic.Uint64

	perDirection sync.Map // Direction -> *timing
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{all: newTiming()}
}

// RecordTranslation counts one translation in dir that took d.
func (m *Metrics) RecordTranslation(dir Direction, d time.Duration, failed bool) {
	ns := uint64(max(d, 0)) //nolint:gosec // clamped to non-negative
	m.all.add(ns, failed)
	m.direction(dir).add(ns, failed)
}

func (m *Metrics) direction(dir Direction) *timing {
	if t, ok := m.perDirection.Load(dir); ok {
		return t.(*timing)
	}
	t, _ := m.perDirection.LoadOrStore(dir, newTiming())
	return t.(*timing)
}

// RecordCacheHit counts a template served from cache.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss counts a template that had to be loaded.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordIssue counts one issue of the given severity.
func (m *Metrics) RecordIssue(severity IssueSeverity) {
	switch severity {
	case SeverityError, SeverityFatal:
		m.errors.Add(1)
	case SeverityWarning:
		m.warnings.Add(1)
	case SeverityInformation:
		m.infos.Add(1)
	}
}

// RecordResult counts the issues of r.
func (m *Metrics) RecordResult(r *Result) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issue := range r.Issues {
		m.RecordIssue(issue.Severity)
	}
}

func (m *Metrics) TranslationsTotal() uint64  { return m.all.count.Load() }
func (m *Metrics) TranslationsFailed() uint64 { return m.all.failed.Load() }

// AverageTime returns the mean translation duration.
func (m *Metrics) AverageTime() time.Duration {
	return time.Duration(m.all.avg()) //nolint:gosec // nanoseconds fit int64
}

// MinTime returns the fastest translation, zero before the first one.
func (m *Metrics) MinTime() time.Duration {
	return time.Duration(m.all.lowest()) //nolint:gosec // nanoseconds fit int64
}

func (m *Metrics) MaxTime() time.Duration {
	return time.Duration(m.all.max.Load()) //nolint:gosec // nanoseconds fit int64
}

// CacheHitRate returns the share of template lookups served from cache.
func (m *Metrics) CacheHitRate() float64 {
	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (m *Metrics) ErrorsTotal() uint64   { return m.errors.Load() }
func (m *Metrics) WarningsTotal() uint64 { return m.warnings.Load() }

// DirectionStats holds the counters of one direction.
type DirectionStats struct {
	Direction   Direction     `json:"direction"`
	Invocations uint64        `json:"invocations"`
	Failures    uint64        `json:"failures"`
	AvgTime     time.Duration `json:"avg_time_ns"`
}

// DirectionStats returns the counters of dir, false when dir never ran.
func (m *Metrics) DirectionStats(dir Direction) (DirectionStats, bool) {
	t, ok := m.perDirection.Load(dir)
	if !ok {
		return DirectionStats{Direction: dir}, false
	}
	return directionStats(dir, t.(*timing)), true
}

func directionStats(dir Direction, t *timing) DirectionStats {
	return DirectionStats{
		Direction:   dir,
		Invocations: t.count.Load(),
		Failures:    t.failed.Load(),
		AvgTime:     time.Duration(t.avg()), //nolint:gosec
	}
}

// Snapshot is a copy of all counters taken at Timestamp.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	TranslationsTotal  uint64 `json:"translations_total"`
	TranslationsFailed uint64 `json:"translations_failed"`

	AvgTimeNs uint64 `json:"avg_time_ns"`
	MinTimeNs uint64 `json:"min_time_ns"`
	MaxTimeNs uint64 `json:"max_time_ns"`

	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	Directions []DirectionStats `json:"directions,omitempty"`
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Timestamp:          time.Now(),
		TranslationsTotal:  m.all.count.Load(),
		TranslationsFailed: m.all.failed.Load(),
		AvgTimeNs:          m.all.avg(),
		MinTimeNs:          m.all.lowest(),
		MaxTimeNs:          m.all.max.Load(),
		CacheHits:          m.cacheHits.Load(),
		CacheMisses:        m.cacheMisses.Load(),
		CacheHitRate:       m.CacheHitRate(),
		ErrorsTotal:        m.errors.Load(),
		WarningsTotal:      m.warnings.Load(),
		InfosTotal:         m.infos.Load(),
	}
	m.perDirection.Range(func(k, v any) bool {
		s.Directions = append(s.Directions, directionStats(k.(Direction), v.(*timing)))
		return true
	})
	return s
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.all.reset()
	for _, c := range []*atomic.Uint64{&m.cacheHits, &m.cacheMisses, &m.errors, &m.warnings, &m.infos} {
		c.Store(0)
	}
	m.perDirection.Clear()
}
