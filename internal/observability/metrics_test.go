package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordToolExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_tool_executions_total", Help: "test"},
		[]string{"tool_name", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("exec", "error").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}

	expected := `
		# HELP test_tool_executions_total test
		# TYPE test_tool_executions_total counter
		test_tool_executions_total{status="error",tool_name="exec"} 1
		test_tool_executions_total{status="success",tool_name="web_search"} 2
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestWorkspaceInboxOverflowCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_inbox_overflow_total", Help: "test"},
		[]string{"workspace_id"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("ws-1").Inc()
	counter.WithLabelValues("ws-1").Inc()
	counter.WithLabelValues("ws-2").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
}

func TestStreamLifecycleGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "test_streams_active", Help: "test"},
		[]string{"mode"},
	)
	registry.MustRegister(gauge)

	gauge.WithLabelValues("chat").Inc()
	gauge.WithLabelValues("chat").Inc()
	gauge.WithLabelValues("chat").Dec()

	if got := testutil.ToFloat64(gauge.WithLabelValues("chat")); got != 1 {
		t.Errorf("expected gauge value 1, got %v", got)
	}
}
