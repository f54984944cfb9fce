package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewTimer tests timer creation
func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}

	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

// TestTimerElapsed tests duration measurement
func TestTimerElapsed(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	if elapsed < 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, want >= 10ms", elapsed)
	}
}

// TestObserveDuration tests histogram observation does not panic
func TestObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_duration_seconds",
		Help: "test",
	})

	timer := NewTimer()
	timer.ObserveDuration(h)
}

// TestObserveDurationVec tests labeled histogram observation
func TestObserveDurationVec(t *testing.T) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_timer_vec_duration_seconds",
		Help: "test",
	}, []string{"operation"})

	timer := NewTimer()
	timer.ObserveDurationVec(h, "claim")
}
