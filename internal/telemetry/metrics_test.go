package telemetry_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/mq-pipeline/internal/telemetry"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRecordCycle_IncrementsCounterAndObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordCycle("success", 1.5)

	if v := counterValue(t, m.CyclesTotal.WithLabelValues("success")); v != 1 {
		t.Errorf("expected cycles_total=1, got %v", v)
	}
}

func TestRecordStage_RecordsErrorKindOnlyWhenPresent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordStage("collect", 0.2, "")
	m.RecordStage("collect", 0.3, "NETWORK")

	if v := counterValue(t, m.StageErrors.WithLabelValues("collect", "NETWORK")); v != 1 {
		t.Errorf("expected one NETWORK error recorded, got %v", v)
	}
}

func TestRecordBreakerTransition_SetsStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordBreakerTransition("collector", "CLOSED", "OPEN", 1)

	if v := gaugeValue(t, m.BreakerState.WithLabelValues("collector")); v != 1 {
		t.Errorf("expected breaker state gauge=1, got %v", v)
	}
	if v := counterValue(t, m.BreakerTransitions.WithLabelValues("collector", "CLOSED", "OPEN")); v != 1 {
		t.Errorf("expected one transition recorded, got %v", v)
	}
}

func TestSetComponentHealthy_TogglesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.SetComponentHealthy("collector", true)
	if v := gaugeValue(t, m.ComponentHealth.WithLabelValues("collector")); v != 1 {
		t.Errorf("expected healthy gauge=1, got %v", v)
	}

	m.SetComponentHealthy("collector", false)
	if v := gaugeValue(t, m.ComponentHealth.WithLabelValues("collector")); v != 0 {
		t.Errorf("expected healthy gauge=0, got %v", v)
	}
}

func TestRecordRecovery_LabelsSuccessAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.RecordRecovery("streamer", true)
	m.RecordRecovery("streamer", false)

	if v := counterValue(t, m.RecoveryTotal.WithLabelValues("streamer", "success")); v != 1 {
		t.Errorf("expected one success recorded, got %v", v)
	}
	if v := counterValue(t, m.RecoveryTotal.WithLabelValues("streamer", "failure")); v != 1 {
		t.Errorf("expected one failure recorded, got %v", v)
	}
}
