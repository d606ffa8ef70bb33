package timing

import (
	"testing"
	"time"
)

func TestTimerCapturesPhases(t *testing.T) {
	timer := NewTimer()
	timer.StartTCP()
	time.Sleep(time.Millisecond)
	timer.EndTCP()
	timer.StartTTFB()
	time.Sleep(time.Millisecond)
	timer.EndTTFB()

	m := timer.GetMetrics()
	if m.TCPConnect <= 0 {
		t.Fatalf("expected positive TCPConnect duration, got %v", m.TCPConnect)
	}
	if m.TTFB <= 0 {
		t.Fatalf("expected positive TTFB duration, got %v", m.TTFB)
	}
	if m.DNSLookup != 0 {
		t.Fatalf("expected zero DNSLookup when not marked, got %v", m.DNSLookup)
	}
	if m.TotalTime <= 0 {
		t.Fatalf("expected positive TotalTime")
	}
}

func TestMetricsDerivedHelpers(t *testing.T) {
	m := Metrics{
		DNSLookup:    10 * time.Millisecond,
		TCPConnect:   20 * time.Millisecond,
		TLSHandshake: 30 * time.Millisecond,
		TTFB:         40 * time.Millisecond,
		TotalTime:    100 * time.Millisecond,
	}
	if got := m.GetConnectionTime(); got != 60*time.Millisecond {
		t.Fatalf("got %v, want 60ms", got)
	}
	if got := m.GetServerTime(); got != 40*time.Millisecond {
		t.Fatalf("got %v, want 40ms", got)
	}
	if got := m.GetNetworkTime(); got != 60*time.Millisecond {
		t.Fatalf("got %v, want 60ms", got)
	}
}
