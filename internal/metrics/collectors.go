package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AgentStatus is the per-agent view exported by HealthCollector
type AgentStatus struct {
	Name              string
	Status            string
	ConsecutiveErrors int
}

// HealthSource lists the current status of every registered agent
type HealthSource interface {
	AgentStatuses() []AgentStatus
}

var agentStatuses = []string{"healthy", "degraded", "stopped"}

// HealthCollector exports agent health on every scrape
type HealthCollector struct {
	source HealthSource

	status *prometheus.Desc
	errors *prometheus.Desc
}

func NewHealthCollector(source HealthSource) *HealthCollector {
	return &HealthCollector{
		source: source,
		status: prometheus.NewDesc(
			"tradecore_agent_status",
			"Agent status (1 for the current status label)",
			[]string{"agent", "status"}, nil,
		),
		errors: prometheus.NewDesc(
			"tradecore_agent_consecutive_errors",
			"Consecutive process() failures",
			[]string{"agent"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *HealthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.status
	ch <- c.errors
}

// Collect implements prometheus.Collector
func (c *HealthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, a := range c.source.AgentStatuses() {
		for _, s := range agentStatuses {
			v := 0.0
			if s == a.Status {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, v, a.Name, s)
		}
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.GaugeValue, float64(a.ConsecutiveErrors), a.Name)
	}
}
