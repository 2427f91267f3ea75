package metrics

import (
	"strings"
	"testing"
)

func TestRegistry_GatherContainsSeries(t *testing.T) {
	registry := NewRegistry()

	registry.RecordRequest("/v1/chat/completions", "POST", 200)
	registry.ObserveRequestLatency("/v1/chat/completions", 0.042)
	registry.RecordUpstreamError("tls_error")
	registry.ConnectionOpened()
	registry.SetRateLimiterBuckets(3)

	output, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	text := string(output)

	for _, want := range []string{
		`requests_total{method="POST",route="/v1/chat/completions",status="200"} 1`,
		`upstream_errors_total{error_type="tls_error"} 1`,
		`request_latency_seconds_bucket{route="/v1/chat/completions",le="0.05"} 1`,
		"active_connections 1",
		"rate_limiter_buckets 3",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q\n%s", want, text)
		}
	}
}

func TestRegistry_LatencyBuckets(t *testing.T) {
	registry := NewRegistry()
	registry.ObserveRequestLatency("/x", 0.0005)

	output, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	text := string(output)

	// The finest and coarsest buckets must both exist.
	if !strings.Contains(text, `le="0.001"`) {
		t.Error("missing 1ms histogram bucket")
	}
	if !strings.Contains(text, `le="10"`) {
		t.Error("missing 10s histogram bucket")
	}
}

func TestConnectionGuard(t *testing.T) {
	registry := NewRegistry()

	guard := NewConnectionGuard(registry)
	output, _ := registry.Gather()
	if !strings.Contains(string(output), "active_connections 1") {
		t.Error("guard should increment the gauge")
	}

	guard.Close()
	output, _ = registry.Gather()
	if !strings.Contains(string(output), "active_connections 0") {
		t.Error("closing the guard should decrement the gauge")
	}
}

func TestNop_ImplementsRecorder(t *testing.T) {
	var _ Recorder = Nop{}
	var _ Recorder = NewRegistry()
}
