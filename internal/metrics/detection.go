package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no camera_id/event_id labels).

var (
	// MotionEventsTotal counts motion events by terminal outcome
	MotionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_events_total",
			Help: "Motion events by terminal outcome",
		},
		[]string{"outcome"},
	)

	// MotionSignalsIgnoredTotal counts bus signals dropped before dispatch
	MotionSignalsIgnoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_signals_ignored_total",
			Help: "Motion signals ignored before dispatch",
		},
		[]string{"reason"},
	)

	// ActuationsTotal counts sprinkler calls by provenance
	ActuationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuations_total",
			Help: "Actuator calls by provenance (burst, video_extend, video_late)",
		},
		[]string{"provenance"},
	)

	// GatingDeniedTotal counts denied triggers by reason
	GatingDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gating_denied_total",
			Help: "Actuations denied by the gating policy",
		},
		[]string{"reason"},
	)

	// DetectorFramesTotal counts per-frame detector outcomes
	DetectorFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_frames_total",
			Help: "Frames submitted to the detector by source and result",
		},
		[]string{"source", "result"},
	)

	// BurstPipelineSeconds tracks fast-path latency (motion signal to burst verdict)
	BurstPipelineSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burst_pipeline_seconds",
			Help:    "Fast path latency from motion signal to burst verdict",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13},
		},
	)

	// VideoConfirmSeconds tracks confirmation-phase latency
	VideoConfirmSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_confirm_seconds",
			Help:    "Confirmation phase latency from motion signal to resolution",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 300},
		},
	)

	// InFlightEvents gauges events not yet RESOLVED
	InFlightEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inflight_events",
			Help: "Motion events currently between dispatch and resolution",
		},
	)
)

func RecordOutcome(outcome string) {
	MotionEventsTotal.WithLabelValues(outcome).Inc()
}

func RecordIgnoredSignal(reason string) {
	MotionSignalsIgnoredTotal.WithLabelValues(reason).Inc()
}

func RecordActuation(provenance string) {
	ActuationsTotal.WithLabelValues(provenance).Inc()
}

func RecordGatingDenied(reason string) {
	GatingDeniedTotal.WithLabelValues(reason).Inc()
}

func RecordDetectorFrame(source, result string) {
	DetectorFramesTotal.WithLabelValues(source, result).Inc()
}
