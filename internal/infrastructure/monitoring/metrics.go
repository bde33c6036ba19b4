package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// Command channel metrics
	CommandCalls    *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	BreakerState    prometheus.Gauge

	// Telemetry metrics
	TelemetrySamples prometheus.Counter
	TelemetryErrors  *prometheus.CounterVec
	SubscriberDrops  prometheus.Counter
	GuideRMS         prometheus.Gauge
	GuideSNR         prometheus.Gauge
	StarLost         prometheus.Gauge

	// Relay metrics
	RelayPulses *prometheus.CounterVec
	RelayAcks   *prometheus.CounterVec

	// Process metrics
	ProcessUp     prometheus.Gauge
	ProcessStarts *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON status endpoint.
type Snapshot struct {
	Commands        int64   `json:"commands"`
	CommandTimeouts int64   `json:"command_timeouts"`
	Samples         int64   `json:"samples"`
	TelemetryErrors int64   `json:"telemetry_errors"`
	Pulses          int64   `json:"pulses"`
	PulseFailures   int64   `json:"pulse_failures"`
	BreakerOpen     bool    `json:"breaker_open"`
	ProcessUp       bool    `json:"process_up"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics registers every collector with reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		CommandCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidelink_command_calls_total",
				Help: "Total number of requests sent over the command channel",
			},
			[]string{"opcode", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guidelink_command_duration_seconds",
				Help:    "Time from raising the busy flag until it cleared or timed out",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"opcode"},
		),
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guidelink_command_breaker_state",
				Help: "Command channel breaker state (0 closed, 1 half-open, 2 open)",
			},
		),

		TelemetrySamples: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guidelink_telemetry_samples_total",
				Help: "Total number of telemetry samples consumed",
			},
		),
		TelemetryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidelink_telemetry_errors_total",
				Help: "Total number of skipped telemetry ticks by reason",
			},
			[]string{"reason"},
		),
		SubscriberDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guidelink_telemetry_subscriber_drops_total",
				Help: "Samples dropped because a subscriber was not keeping up",
			},
		),
		GuideRMS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guidelink_guide_rms_arcsec",
				Help: "Total guiding RMS reported by the autoguider",
			},
		),
		GuideSNR: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guidelink_guide_snr",
				Help: "Signal to noise ratio of the guide star",
			},
		),
		StarLost: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guidelink_star_lost",
				Help: "1 while the star lost alert is latched",
			},
		),

		RelayPulses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidelink_relay_pulses_total",
				Help: "Guide pulses relayed to the mount",
			},
			[]string{"direction", "result"},
		),
		RelayAcks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidelink_relay_acks_total",
				Help: "Pulse acknowledgements sent back to the autoguider",
			},
			[]string{"status"},
		),

		ProcessUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guidelink_process_up",
				Help: "1 while the autoguider process is running",
			},
		),
		ProcessStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidelink_process_starts_total",
				Help: "Autoguider start attempts by result",
			},
			[]string{"result"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidelink_http_requests_total",
				Help: "Total number of status server requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guidelink_http_request_duration_seconds",
				Help:    "Status server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "guidelink_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordCommand records one request over the command channel.
func (m *Metrics) RecordCommand(opcode, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommandCalls.WithLabelValues(opcode, status).Inc()
	m.CommandDuration.WithLabelValues(opcode).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Commands++
	if status == StatusTimeout {
		m.snapshot.CommandTimeouts++
	}
	m.mu.Unlock()
}

// SetBreakerState records the command breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))

	m.mu.Lock()
	m.snapshot.BreakerOpen = state != 0
	m.mu.Unlock()
}

// RecordSample records a consumed telemetry sample.
func (m *Metrics) RecordSample(rms, snr float64, starLost bool) {
	if m == nil {
		return
	}
	m.TelemetrySamples.Inc()
	m.GuideRMS.Set(rms)
	m.GuideSNR.Set(snr)
	m.StarLost.Set(boolGauge(starLost))

	m.mu.Lock()
	m.snapshot.Samples++
	m.mu.Unlock()
}

// RecordTelemetryError records a skipped telemetry tick.
func (m *Metrics) RecordTelemetryError(reason string) {
	if m == nil {
		return
	}
	m.TelemetryErrors.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.TelemetryErrors++
	m.mu.Unlock()
}

// IncSubscriberDrops counts a sample a subscriber did not receive.
func (m *Metrics) IncSubscriberDrops() {
	if m == nil {
		return
	}
	m.SubscriberDrops.Inc()
}

// RecordPulse records a relayed guide pulse.
func (m *Metrics) RecordPulse(direction, result string) {
	if m == nil {
		return
	}
	m.RelayPulses.WithLabelValues(direction, result).Inc()

	m.mu.Lock()
	m.snapshot.Pulses++
	if result != StatusOK {
		m.snapshot.PulseFailures++
	}
	m.mu.Unlock()
}

// RecordAck records a pulse acknowledgement.
func (m *Metrics) RecordAck(status string) {
	if m == nil {
		return
	}
	m.RelayAcks.WithLabelValues(status).Inc()
}

// SetProcessUp records whether the autoguider is running.
func (m *Metrics) SetProcessUp(up bool) {
	if m == nil {
		return
	}
	m.ProcessUp.Set(boolGauge(up))

	m.mu.Lock()
	m.snapshot.ProcessUp = up
	m.mu.Unlock()
}

// RecordProcessStart records an autoguider start attempt.
func (m *Metrics) RecordProcessStart(result string) {
	if m == nil {
		return
	}
	m.ProcessStarts.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a status server request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns the current values for the status endpoint.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
