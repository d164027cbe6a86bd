package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/proctor/internal/domain"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(OpSubmitAnswer, 500*time.Millisecond)
	w.Observe(OpSubmitAnswer, 700*time.Millisecond)
	w.Observe(OpSubmitAnswer, 900*time.Millisecond)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Operations) != 1 {
		t.Fatalf("len(Operations) = %d, want 1", len(snap.Operations))
	}
	s := snap.Operations[0]
	if s.Operation != OpSubmitAnswer || s.Samples != 3 || s.LastMS != 900 {
		t.Fatalf("stats = %+v", s)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 800 {
		t.Fatalf("TargetP95MS = %.2f, want 800", s.TargetP95MS)
	}
}

func TestLatencyWindowWraps(t *testing.T) {
	w := newLatencyWindow(2)
	for _, ms := range []int{100, 200, 300} {
		w.Observe(OpTranscription, time.Duration(ms)*time.Millisecond)
	}
	s := w.Snapshot().Operations[0]
	if s.Samples != 2 || s.AvgMS != 250 {
		t.Fatalf("stats = %+v, want 2 samples averaging 250", s)
	}
}

func TestMetricsHandlerExposesObserverCounters(t *testing.T) {
	m := NewMetrics("proctor_test")
	m.PhaseChanged("", domain.PhaseWelcome)
	m.Violation(domain.CategoryTabSwitch)
	m.Submission("error", 10*time.Millisecond)
	m.Finalized(domain.StatusTerminated, 20*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`proctor_test_phase_transitions_total{from="none",to="welcome"} 1`,
		`proctor_test_integrity_violations_total{category="tab_switch"} 1`,
		`proctor_test_finalizations_total{result="error",status="terminated"} 1`,
		`proctor_test_provider_errors_total{code="submit_answer",provider="backend"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	// A second instance has its own registry.
	_ = NewMetrics("proctor_test")
}
