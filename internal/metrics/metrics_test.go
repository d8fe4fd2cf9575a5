package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wujunbao1963/neighbor-guard/internal/alarm"
)

func metricValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	case out.Histogram != nil:
		return float64(out.Histogram.GetSampleCount())
	default:
		t.Fatalf("metric has no recognized value field")
		return 0
	}
}

func TestObserveFilteredSignal(t *testing.T) {
	m := New("test")
	ps := alarm.ProcessedSignal{
		Signal: alarm.Signal{
			SensorType: alarm.SensorMotionPIR,
		},
		Filtered:     true,
		FilterReason: "motion_cooldown",
	}
	m.Observe(ps)

	if got := metricValue(t, m.signalsFiltered.WithLabelValues("motion-pir", "motion_cooldown")); got != 1 {
		t.Fatalf("signalsFiltered = %v, want 1", got)
	}
}

func TestObserveAcceptedSignal(t *testing.T) {
	m := New("test")
	ps := alarm.ProcessedSignal{
		Signal: alarm.Signal{Type: alarm.SignalDoorOpen},
		Route:  alarm.RouteDecision{Workflow: alarm.WorkflowSecurityHeavy},
		Transition: alarm.MachineResult{
			From: alarm.StateQuiet,
			To:   alarm.StatePending,
		},
		Assessment: alarm.AlertAssessment{
			UserAlertLevel:    3,
			DispatchReadiness: 1,
			Recommendation:    alarm.RecommendContinueVerify,
		},
	}
	m.Observe(ps)

	if got := metricValue(t, m.signalsProcessed.WithLabelValues("door-open", "security-heavy")); got != 1 {
		t.Fatalf("signalsProcessed = %v, want 1", got)
	}
	if got := metricValue(t, m.transitions.WithLabelValues("quiet", "pending")); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}
	if got := metricValue(t, m.dispatchRecommend.WithLabelValues("continue_verify")); got != 1 {
		t.Fatalf("dispatchRecommend = %v, want 1", got)
	}
	if got := metricValue(t, m.userAlertLevel); got != 1 {
		t.Fatalf("userAlertLevel sample count = %v, want 1", got)
	}
}

func TestObserveSealedEvent(t *testing.T) {
	m := New("test")
	ps := alarm.ProcessedSignal{
		Signal: alarm.Signal{Type: alarm.SignalDoorOpen},
		Route:  alarm.RouteDecision{Workflow: alarm.WorkflowSecurityHeavy},
		Transition: alarm.MachineResult{
			From:        alarm.StatePending,
			To:          alarm.StateQuiet,
			SealedEvent: &alarm.EventRecord{EndReason: alarm.EndCanceled},
		},
	}
	m.Observe(ps)

	if got := metricValue(t, m.eventsTriggered.WithLabelValues("canceled")); got != 1 {
		t.Fatalf("eventsTriggered = %v, want 1", got)
	}
}

func TestSetEntryPointsPending(t *testing.T) {
	m := New("test")
	status := alarm.Status{
		EntryPoints: map[string]alarm.EntryStatus{
			"ep1": {State: alarm.StatePending},
			"ep2": {State: alarm.StateQuiet},
			"ep3": {State: alarm.StatePending},
		},
	}
	m.SetEntryPointsPending(status)

	if got := metricValue(t, m.entryDelayActive); got != 2 {
		t.Fatalf("entryDelayActive = %v, want 2", got)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	m := New("test")
	if err := m.Start(""); err != nil {
		t.Fatalf("Start(\"\") returned error: %v", err)
	}
	if err := m.Start("disabled"); err != nil {
		t.Fatalf("Start(\"disabled\") returned error: %v", err)
	}
	m.Shutdown(nil) // server never started, must not panic
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Observe(alarm.ProcessedSignal{})
	m.SetEntryPointsPending(alarm.Status{})
	if err := m.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start on nil receiver returned error: %v", err)
	}
}
