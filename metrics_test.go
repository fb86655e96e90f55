package openfhir

import (
	"testing"
	"time"
)

func TestMetrics_RecordTranslation(t *testing.T) {
	m := NewMetrics()
	m.RecordTranslation(ToOpenEHR, 10*time.Millisecond, false)
	m.RecordTranslation(ToOpenEHR, 30*time.Millisecond, true)
	m.RecordTranslation(ToFHIR, 20*time.Millisecond, false)

	if got := m.TranslationsTotal(); got != 3 {
		t.Errorf("TranslationsTotal() = %d; want 3", got)
	}
	if got := m.TranslationsFailed(); got != 1 {
		t.Errorf("TranslationsFailed() = %d; want 1", got)
	}
	if got := m.MinTime(); got != 10*time.Millisecond {
		t.Errorf("MinTime() = %v; want 10ms", got)
	}
	if got := m.MaxTime(); got != 30*time.Millisecond {
		t.Errorf("MaxTime() = %v; want 30ms", got)
	}
	if got := m.AverageTime(); got != 20*time.Millisecond {
		t.Errorf("AverageTime() = %v; want 20ms", got)
	}

	stats, ok := m.DirectionStats(ToOpenEHR)
	if !ok || stats.Invocations != 2 || stats.Failures != 1 {
		t.Errorf("DirectionStats(ToOpenEHR) = %+v, %v", stats, ok)
	}
}

func TestMetrics_CacheAndIssues(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	if got := m.CacheHitRate(); got != 0.75 {
		t.Errorf("CacheHitRate() = %v; want 0.75", got)
	}

	r := NewResult()
	r.AddWarning(CodeValue, "w", "")
	r.AddError(CodeValue, "e", "")
	m.RecordResult(r)
	if m.WarningsTotal() != 1 || m.ErrorsTotal() != 1 {
		t.Errorf("warnings=%d errors=%d; want 1/1", m.WarningsTotal(), m.ErrorsTotal())
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordTranslation(ToFHIR, time.Millisecond, false)
	m.Reset()
	s := m.Snapshot()
	if s.TranslationsTotal != 0 || s.MinTimeNs != 0 || len(s.Directions) != 0 {
		t.Errorf("snapshot after Reset = %+v", s)
	}
}
