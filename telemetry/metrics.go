package telemetry

var (
	// RelayBuckets covers a trigger manager publishing to a broker.
	RelayBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Feed metrics
var (
	// TriggersActive tracks registered triggers by mode (subscribe, psubscribe, stream)
	TriggersActive GaugeVec = noopGaugeVec{}

	// TriggersDisabled tracks triggers currently marked disabled
	TriggersDisabled Gauge = NoopStat{}

	// RegistryOpsTotal counts add/remove calls by op and result
	RegistryOpsTotal CounterVec = noopCounterVec{}

	// RelaysTotal counts relayed events by mode and result (success, failed)
	RelaysTotal CounterVec = noopCounterVec{}

	// RelayDurationSeconds measures FireTrigger latency by mode
	RelayDurationSeconds HistogramVec = noopHistogramVec{}

	// StreamReadsTotal counts blocking stream reads by result (data, empty, error)
	StreamReadsTotal CounterVec = noopCounterVec{}

	// CursorWritesTotal counts cursor cache writes by result
	CursorWritesTotal CounterVec = noopCounterVec{}

	// DisablesTotal counts disable calls by error kind (delivery, connection, cache)
	DisablesTotal CounterVec = noopCounterVec{}
)

// Trigger manager metrics
var (
	// FiredTotal counts events handed to the sink by result (published, skipped, failed)
	FiredTotal CounterVec = noopCounterVec{}

	// SinkPublishTotal counts sink publishes by sink type and result
	SinkPublishTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	TriggersActive = NewGaugeVec(
		"triggers_active",
		"Registered triggers by mode",
		[]string{"mode"},
	)
	TriggersDisabled = NewGauge(
		"triggers_disabled",
		"Triggers currently disabled",
	)
	RegistryOpsTotal = NewCounterVec(
		"registry_ops_total",
		"Registry add/remove operations by result",
		[]string{"op", "result"},
	)
	RelaysTotal = NewCounterVec(
		"relays_total",
		"Events relayed to the trigger manager by mode and result",
		[]string{"mode", "result"},
	)
	RelayDurationSeconds = NewHistogramVec(
		"relay_duration_seconds",
		"Time spent firing a trigger in seconds",
		[]string{"mode"},
		RelayBuckets,
	)
	StreamReadsTotal = NewCounterVec(
		"stream_reads_total",
		"Blocking stream reads by result",
		[]string{"result"},
	)
	CursorWritesTotal = NewCounterVec(
		"cursor_writes_total",
		"Cursor cache writes by result",
		[]string{"result"},
	)
	DisablesTotal = NewCounterVec(
		"disables_total",
		"Trigger disables by error kind",
		[]string{"kind"},
	)
	FiredTotal = NewCounterVec(
		"fired_total",
		"Trigger firings by result",
		[]string{"result"},
	)
	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Sink publishes by sink and result",
		[]string{"sink", "result"},
	)
}
