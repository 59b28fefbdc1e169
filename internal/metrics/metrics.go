// Package metrics exposes the Prometheus counters, gauges, and
// histograms COMPASS records across an investigation's lifecycle:
// investigation throughput, hypothesis generation, human decisions,
// caching, circuit-breaker state, and the concrete backend clients'
// external call latency.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector COMPASS registers. Labels
// mirror the original monitoring surface: confidence is bucketed into
// low/medium/high tiers rather than recorded as a raw float, since a
// float label would create unbounded cardinality.
type Metrics struct {
	InvestigationsTotal     *prometheus.CounterVec
	InvestigationDuration   *prometheus.HistogramVec
	InvestigationCost       *prometheus.HistogramVec
	HypothesesGenerated     *prometheus.CounterVec
	HumanDecisionDuration   *prometheus.HistogramVec
	CacheOperations         *prometheus.CounterVec
	CacheSize               *prometheus.GaugeVec
	Errors                  *prometheus.CounterVec
	HypothesisDisproofTotal *prometheus.CounterVec
	AgentCallsTotal         *prometheus.CounterVec
	AgentLatency            *prometheus.HistogramVec
	AgentRetriesTotal       *prometheus.CounterVec
	ActiveInvestigations    *prometheus.GaugeVec
	CircuitBreakerState     *prometheus.GaugeVec
	AIOverridesTotal        *prometheus.CounterVec
	ExternalAPILatency      *prometheus.HistogramVec
	ExternalAPIErrorsTotal  *prometheus.CounterVec
	DBPoolSize              *prometheus.GaugeVec
	DBPoolActive            *prometheus.GaugeVec
	DBQueryDuration         *prometheus.HistogramVec

	collectors []prometheus.Collector
	registerer prometheus.Registerer
}

// confidenceTier buckets a 0..1 confidence score into the label values
// the original monitoring surface used.
func confidenceTier(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// circuitBreakerStateValue maps a breaker state name onto the gauge
// value the original surface recorded (closed=0, half_open=1, open=2).
func circuitBreakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// NewMetrics creates and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_investigations_total",
			Help: "Total number of investigations by incident type, priority, and status.",
		}, []string{"incident_type", "priority", "status"}),

		InvestigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_investigation_duration_seconds",
			Help:    "Investigation duration in seconds, by phase and outcome.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase", "outcome"}),

		InvestigationCost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_investigation_cost_usd",
			Help:    "Investigation cost in USD, by agent type, model, and priority.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"agent_type", "model", "priority"}),

		HypothesesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_hypotheses_generated_total",
			Help: "Total hypotheses generated, by worker and confidence tier.",
		}, []string{"agent_type", "confidence_level"}),

		HumanDecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_human_decision_duration_seconds",
			Help:    "Time a human spent deciding, by decision type, AI agreement, and confidence tier.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"decision_type", "agreed_with_ai", "confidence_level"}),

		CacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_cache_operations_total",
			Help: "Total cache lookups, by cache type and hit/miss result.",
		}, []string{"cache_type", "result"}),

		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compass_cache_size_bytes",
			Help: "Approximate cache size in bytes, by cache type.",
		}, []string{"cache_type"}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_errors_total",
			Help: "Total errors, by error type, component, and severity.",
		}, []string{"error_type", "component", "severity"}),

		HypothesisDisproofTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_hypothesis_disproof_total",
			Help: "Total disproof attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),

		AgentCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_agent_calls_total",
			Help: "Total worker calls, by worker type, OODA phase, and status.",
		}, []string{"agent_type", "phase", "status"}),

		AgentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_agent_latency_seconds",
			Help:    "Worker call latency in seconds, by worker type and OODA phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_type", "phase"}),

		AgentRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_agent_retries_total",
			Help: "Total worker call retries, by worker type and reason.",
		}, []string{"agent_type", "reason"}),

		ActiveInvestigations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compass_active_investigations",
			Help: "Number of investigations currently in flight, by priority.",
		}, []string{"priority"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compass_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open), by service and circuit name.",
		}, []string{"service", "circuit_name"}),

		AIOverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_ai_overrides_total",
			Help: "Total times a human overrode the AI's ranking, by decision type and outcome.",
		}, []string{"decision_type", "outcome"}),

		ExternalAPILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_external_api_latency_seconds",
			Help:    "External backend call latency in seconds, by service and endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "endpoint"}),

		ExternalAPIErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_external_api_errors_total",
			Help: "Total external backend call failures, by service and error type.",
		}, []string{"service", "error_type"}),

		DBPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compass_db_pool_size",
			Help: "Observed database connection pool size, by pool name, as reported by the database worker.",
		}, []string{"pool_name"}),

		DBPoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compass_db_pool_active_connections",
			Help: "Observed active database connections, by pool name, as reported by the database worker.",
		}, []string{"pool_name"}),

		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_db_query_duration_seconds",
			Help:    "Observed database query duration, by query type, as reported by the database worker.",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type"}),

		registerer: reg,
	}

	m.collectors = []prometheus.Collector{
		m.InvestigationsTotal, m.InvestigationDuration, m.InvestigationCost,
		m.HypothesesGenerated, m.HumanDecisionDuration, m.CacheOperations, m.CacheSize,
		m.Errors, m.HypothesisDisproofTotal, m.AgentCallsTotal, m.AgentLatency,
		m.AgentRetriesTotal, m.ActiveInvestigations, m.CircuitBreakerState,
		m.AIOverridesTotal, m.ExternalAPILatency, m.ExternalAPIErrorsTotal,
		m.DBPoolSize, m.DBPoolActive, m.DBQueryDuration,
	}
	reg.MustRegister(m.collectors...)
	return m
}

// Unregister removes every collector from the registry it was created
// against. Used by tests to avoid duplicate-registration panics across
// test cases sharing the default registry.
func (m *Metrics) Unregister() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.collectors {
		m.registerer.Unregister(c)
	}
}

// TrackInvestigationStarted records the start of an investigation.
func (m *Metrics) TrackInvestigationStarted(incidentType, priority string) {
	m.InvestigationsTotal.WithLabelValues(incidentType, priority, "started").Inc()
}

// TrackInvestigationCompleted records an investigation's terminal
// outcome, duration, and total cost.
func (m *Metrics) TrackInvestigationCompleted(incidentType, priority string, durationSeconds, totalCostUSD float64, outcome string) {
	m.InvestigationsTotal.WithLabelValues(incidentType, priority, outcome).Inc()
	m.InvestigationDuration.WithLabelValues("total", outcome).Observe(durationSeconds)
	m.InvestigationCost.WithLabelValues("orchestrator", "mixed", priority).Observe(totalCostUSD)
}

// TrackHypothesisGenerated records a single worker's generated
// hypothesis, bucketed by confidence tier.
func (m *Metrics) TrackHypothesisGenerated(agentType string, confidence float64) {
	m.HypothesesGenerated.WithLabelValues(agentType, confidenceTier(confidence)).Inc()
}

// TrackAgentCall records a single worker invocation's outcome and
// latency.
func (m *Metrics) TrackAgentCall(agentType, phase string, latencySeconds float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.AgentCallsTotal.WithLabelValues(agentType, phase, status).Inc()
	m.AgentLatency.WithLabelValues(agentType, phase).Observe(latencySeconds)
}

// TrackHumanDecision records how long a human took to decide and
// whether they agreed with the AI's top-ranked hypothesis.
func (m *Metrics) TrackHumanDecision(decisionType string, decisionTimeSeconds float64, confidence int, agreedWithAI bool) {
	m.HumanDecisionDuration.WithLabelValues(decisionType, strconv.FormatBool(agreedWithAI), confidenceTier(float64(confidence)/100)).Observe(decisionTimeSeconds)
}

// TrackCacheOperation records a cache lookup result.
func (m *Metrics) TrackCacheOperation(cacheType string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheOperations.WithLabelValues(cacheType, result).Inc()
}

// TrackCacheSize records a cache's current size in bytes.
func (m *Metrics) TrackCacheSize(cacheType string, sizeBytes float64) {
	m.CacheSize.WithLabelValues(cacheType).Set(sizeBytes)
}

// TrackError records an error occurrence.
func (m *Metrics) TrackError(errorType, component, severity string) {
	m.Errors.WithLabelValues(errorType, component, severity).Inc()
}

// TrackHypothesisDisproof records a single disproof strategy's outcome.
func (m *Metrics) TrackHypothesisDisproof(strategy, outcome string) {
	m.HypothesisDisproofTotal.WithLabelValues(strategy, outcome).Inc()
}

// TrackAgentRetry records a worker call retry.
func (m *Metrics) TrackAgentRetry(agentType, reason string) {
	m.AgentRetriesTotal.WithLabelValues(agentType, reason).Inc()
}

// TrackActiveInvestigationsChange adjusts the in-flight investigation
// gauge for a priority tier by delta (positive on start, negative on
// terminal transition).
func (m *Metrics) TrackActiveInvestigationsChange(priority string, delta float64) {
	m.ActiveInvestigations.WithLabelValues(priority).Add(delta)
}

// TrackCircuitBreakerState records a backend client's breaker state.
func (m *Metrics) TrackCircuitBreakerState(service, circuitName, state string) {
	m.CircuitBreakerState.WithLabelValues(service, circuitName).Set(circuitBreakerStateValue(state))
}

// TrackAIOverride records a human overriding the AI's top-ranked
// hypothesis or decision.
func (m *Metrics) TrackAIOverride(decisionType, outcome string) {
	m.AIOverridesTotal.WithLabelValues(decisionType, outcome).Inc()
}

// TrackExternalAPICall records a backend client's call latency and, on
// failure, an error count.
func (m *Metrics) TrackExternalAPICall(service, endpoint string, latencySeconds float64, success bool, errorType string) {
	m.ExternalAPILatency.WithLabelValues(service, endpoint).Observe(latencySeconds)
	if !success {
		m.ExternalAPIErrorsTotal.WithLabelValues(service, errorType).Inc()
	}
}

// TrackDBPoolStats records the database worker's observed connection
// pool size and active connection count for the target service.
func (m *Metrics) TrackDBPoolStats(poolName string, poolSize, activeConnections float64) {
	m.DBPoolSize.WithLabelValues(poolName).Set(poolSize)
	m.DBPoolActive.WithLabelValues(poolName).Set(activeConnections)
}

// TrackDBQuery records the database worker's observed query latency.
func (m *Metrics) TrackDBQuery(queryType string, durationSeconds float64) {
	m.DBQueryDuration.WithLabelValues(queryType).Observe(durationSeconds)
}
