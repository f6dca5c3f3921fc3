package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if PollCycles == nil || SpacesResolved == nil || GatewayWait == nil || GatewayQueueDepth == nil {
		t.Fatal("metrics not initialized")
	}
	if DownloadDuration == nil || WorkingSetSize == nil || CaptionDownloads == nil {
		t.Fatal("download metrics not initialized")
	}
}

func TestHelpersToleratesNil(t *testing.T) {
	// None of these may panic before Init.
	Inc(nil)
	Add(nil, 3)
	IncLabel(nil, "x")
	Observe(nil, time.Second)
}

func TestCounterHelpers(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_helper_total", Help: "test"})
	Inc(c)
	Add(c, 4)

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}
}

func TestSetQueueDepth(t *testing.T) {
	Init()
	SetQueueDepth(7)

	var m dto.Metric
	if err := GatewayQueueDepth.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
	SetQueueDepth(0)
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc")
	if got := GetCorrelation(ctx); got != "abc" {
		t.Errorf("GetCorrelation = %q, want abc", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
