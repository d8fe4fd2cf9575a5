// Package metrics wires the alarm core's signal and event counters into
// Prometheus: a struct of promauto-registered vectors behind a small set of
// record methods, served over a dedicated HTTP listener.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/wujunbao1963/neighbor-guard/internal/alarm"
)

const namespace = "sentryd"

// Metrics holds every Prometheus collector the alarm core's pipeline
// exercises, named "sentryd_<subsystem>_<name>".
type Metrics struct {
	signalsProcessed  *prometheus.CounterVec
	signalsFiltered   *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	eventsTriggered   *prometheus.CounterVec
	dispatchRecommend *prometheus.CounterVec
	userAlertLevel    prometheus.Histogram
	dispatchLevel     prometheus.Histogram
	entryDelayActive  prometheus.Gauge
	buildInfo         *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// New creates and registers every collector against a fresh registry, so
// repeated construction in tests never panics on duplicate registration the
// way reusing prometheus.DefaultRegisterer would.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		signalsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_processed_total",
			Help:      "Total signals accepted by the debounce filter, by signal type and workflow class.",
		}, []string{"signal_type", "workflow"}),
		signalsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_filtered_total",
			Help:      "Total signals suppressed by the debounce filter, by sensor type and reason.",
		}, []string{"sensor_type", "reason"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "state_transitions_total",
			Help:      "Total entry-point machine transitions, by from-state and to-state.",
		}, []string{"from", "to"}),
		eventsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "events_sealed_total",
			Help:      "Total sealed events, by end reason.",
		}, []string{"end_reason"}),
		dispatchRecommend: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "dispatch_recommendation_total",
			Help:      "Total dispatch recommendations emitted by the alert calculator.",
		}, []string{"recommendation"}),
		userAlertLevel: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "user_alert_level",
			Help:      "Distribution of computed user-alert levels (0-3).",
			Buckets:   []float64{0, 1, 2, 3},
		}),
		dispatchLevel: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "dispatch_readiness_level",
			Help:      "Distribution of computed dispatch-readiness levels (0-3).",
			Buckets:   []float64{0, 1, 2, 3},
		}),
		entryDelayActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "entry_points_pending",
			Help:      "Number of entry-point machines currently in the pending state.",
		}),
		buildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build metadata, value is always 1.",
		}, []string{"version"}),
		registry: reg,
	}

	m.buildInfo.WithLabelValues(version).Set(1)
	return m
}

// Observe records one processed signal's pipeline outcome, for a caller to
// invoke after a Coordinator.Process call. The sentryd CLI does not call it.
func (m *Metrics) Observe(ps alarm.ProcessedSignal) {
	if m == nil {
		return
	}
	if ps.Filtered {
		m.signalsFiltered.WithLabelValues(string(ps.Signal.SensorType), ps.FilterReason).Inc()
		return
	}

	m.signalsProcessed.WithLabelValues(string(ps.Signal.Type), string(ps.Route.Workflow)).Inc()
	m.transitions.WithLabelValues(string(ps.Transition.From), string(ps.Transition.To)).Inc()
	if ps.Transition.SealedEvent != nil {
		m.eventsTriggered.WithLabelValues(string(ps.Transition.SealedEvent.EndReason)).Inc()
	}
	m.dispatchRecommend.WithLabelValues(string(ps.Assessment.Recommendation)).Inc()
	m.userAlertLevel.Observe(float64(ps.Assessment.UserAlertLevel))
	m.dispatchLevel.Observe(float64(ps.Assessment.DispatchReadiness))
}

// SetEntryPointsPending refreshes the pending-count gauge from a status
// snapshot, called on the CLI's periodic status-poll tick.
func (m *Metrics) SetEntryPointsPending(status alarm.Status) {
	if m == nil {
		return
	}
	count := 0
	for _, ep := range status.EntryPoints {
		if ep.State == alarm.StatePending {
			count++
		}
	}
	m.entryDelayActive.Set(float64(count))
}

// Start serves /metrics on addr. An empty or "disabled" addr is a no-op.
func (m *Metrics) Start(addr string) error {
	if m == nil || addr == "" || strings.EqualFold(addr, "disabled") {
		log.Info().Msg("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped unexpectedly")
		}
	}()

	log.Info().Str("addr", addr).Msg("metrics server started")
	return nil
}

// Shutdown gracefully stops the metrics HTTP server, if running.
func (m *Metrics) Shutdown(ctx context.Context) {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Shutdown(ctx)
}
