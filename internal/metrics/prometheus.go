package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent runtime metrics
	AgentIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_agent_iterations_total",
			Help: "Total number of agent loop iterations",
		},
		[]string{"agent", "status"}, // status: success|error
	)

	AgentIterationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecore_agent_iteration_duration_seconds",
			Help:    "Agent process() duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"agent"},
	)

	AgentFailStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_agent_fail_stops_total",
			Help: "Agents stopped after reaching the consecutive error ceiling",
		},
		[]string{"agent"},
	)

	// Bus metrics
	BusMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_bus_messages_total",
			Help: "Messages handled by the bus",
		},
		[]string{"topic", "direction", "status"}, // direction: out|in, status: ok|error|dropped
	)

	// Orchestrator metrics
	OrchestratorOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_orchestrator_outcomes_total",
			Help: "Terminal outcomes of scored signals",
		},
		[]string{"action"}, // discarded|approved|rejected|expired|invalid|failed
	)

	OrchestratorPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_orchestrator_pending_validations",
			Help: "Risk requests awaiting a response",
		},
	)

	OrchestratorOrphans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecore_orchestrator_orphan_responses_total",
			Help: "Risk responses without a matching pending request",
		},
	)

	SignalScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecore_signal_score",
			Help:    "Weighted signal scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.8, 0.9, 1},
		},
		[]string{"agent_type"},
	)

	// Risk metrics
	RiskValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_risk_validations_total",
			Help: "Risk validation verdicts",
		},
		[]string{"result", "reason"}, // result: approved|rejected
	)

	RiskAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_risk_size_adjustments_total",
			Help: "Size adjustments applied during sizing",
		},
		[]string{"reason"},
	)

	KillSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_kill_switch_active",
			Help: "Kill switch state (0=inactive, 1=active)",
		},
	)

	PortfolioDrawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_portfolio_drawdown_ratio",
			Help: "Current drawdown from peak capital as a fraction",
		},
	)

	// Monitor metrics
	MonitorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_monitor_events_total",
			Help: "Position monitor events by type",
		},
		[]string{"type"},
	)

	MonitoredPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_monitored_positions",
			Help: "Open positions under stop-loss/take-profit watch",
		},
	)

	PendingOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_pending_orders",
			Help: "Limit orders awaiting fill or expiry",
		},
	)

	// Collaborator metrics
	CollaboratorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_collaborator_calls_total",
			Help: "Calls to external collaborators",
		},
		[]string{"collaborator", "status"},
	)

	CollaboratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecore_collaborator_latency_seconds",
			Help:    "External collaborator call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"collaborator"},
	)

	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_db_queries_total",
			Help: "Database queries",
		},
		[]string{"database", "operation", "status"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(AgentIterations)
		prometheus.MustRegister(AgentIterationDuration)
		prometheus.MustRegister(AgentFailStops)

		prometheus.MustRegister(BusMessages)

		prometheus.MustRegister(OrchestratorOutcomes)
		prometheus.MustRegister(OrchestratorPending)
		prometheus.MustRegister(OrchestratorOrphans)
		prometheus.MustRegister(SignalScore)

		prometheus.MustRegister(RiskValidations)
		prometheus.MustRegister(RiskAdjustments)
		prometheus.MustRegister(KillSwitchActive)
		prometheus.MustRegister(PortfolioDrawdown)

		prometheus.MustRegister(MonitorEvents)
		prometheus.MustRegister(MonitoredPositions)
		prometheus.MustRegister(PendingOrders)

		prometheus.MustRegister(CollaboratorCalls)
		prometheus.MustRegister(CollaboratorLatency)
		prometheus.MustRegister(DBQueries)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAgentIteration records one pass of an agent loop
func RecordAgentIteration(agent string, duration time.Duration, err error) {
	AgentIterations.WithLabelValues(agent, status(err)).Inc()
	AgentIterationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordBusMessage records a published or consumed message
func RecordBusMessage(topic, direction, result string) {
	BusMessages.WithLabelValues(topic, direction, result).Inc()
}

// RecordRiskValidation records a verdict; reason is empty for approvals
func RecordRiskValidation(approved bool, reason string) {
	result := "approved"
	if !approved {
		result = "rejected"
	}
	RiskValidations.WithLabelValues(result, reason).Inc()
}

// SetKillSwitch mirrors the kill switch state
func SetKillSwitch(active bool) {
	if active {
		KillSwitchActive.Set(1)
		return
	}
	KillSwitchActive.Set(0)
}

// RecordCollaboratorCall records an external collaborator call
func RecordCollaboratorCall(collaborator string, latency time.Duration, err error) {
	CollaboratorCalls.WithLabelValues(collaborator, status(err)).Inc()
	CollaboratorLatency.WithLabelValues(collaborator).Observe(latency.Seconds())
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, err error) {
	DBQueries.WithLabelValues(database, operation, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
