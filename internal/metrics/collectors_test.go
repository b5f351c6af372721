package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHealth []AgentStatus

func (s staticHealth) AgentStatuses() []AgentStatus { return s }

func TestHealthCollector(t *testing.T) {
	c := NewHealthCollector(staticHealth{
		{Name: "orchestrator", Status: "healthy"},
		{Name: "risk_manager", Status: "stopped", ConsecutiveErrors: 5},
	})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP tradecore_agent_consecutive_errors Consecutive process() failures
# TYPE tradecore_agent_consecutive_errors gauge
tradecore_agent_consecutive_errors{agent="orchestrator"} 0
tradecore_agent_consecutive_errors{agent="risk_manager"} 5
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tradecore_agent_consecutive_errors"))
	assert.Equal(t, 8, testutil.CollectAndCount(c))
}

func TestRecordRiskValidation(t *testing.T) {
	before := testutil.ToFloat64(RiskValidations.WithLabelValues("rejected", "kill_switch"))
	RecordRiskValidation(false, "kill_switch")
	assert.Equal(t, before+1, testutil.ToFloat64(RiskValidations.WithLabelValues("rejected", "kill_switch")))

	SetKillSwitch(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(KillSwitchActive))
	SetKillSwitch(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(KillSwitchActive))
}
