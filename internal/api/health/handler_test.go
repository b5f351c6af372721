package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/agent"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

type staticAgents map[string]agent.Health

func (s staticAgents) AllHealth() map[string]agent.Health { return s }

func ok(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.ErrUnavailable }

func get(t *testing.T, fn http.HandlerFunc) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestHealth_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		agents     staticAgents
		checks     map[string]Check
		status     string
		healthCode int
		readyCode  int
	}{
		{
			name:       "all good",
			agents:     staticAgents{"risk_manager": {Status: agent.StatusHealthy}},
			checks:     map[string]Check{"bus": ok, "redis": ok},
			status:     "healthy",
			healthCode: http.StatusOK,
			readyCode:  http.StatusOK,
		},
		{
			name:       "one dependency down",
			agents:     staticAgents{"risk_manager": {Status: agent.StatusHealthy}},
			checks:     map[string]Check{"bus": ok, "redis": down},
			status:     "degraded",
			healthCode: http.StatusOK,
			readyCode:  http.StatusServiceUnavailable,
		},
		{
			name:       "agent degraded",
			agents:     staticAgents{"orchestrator": {Status: agent.StatusDegraded}},
			checks:     map[string]Check{"bus": ok},
			status:     "degraded",
			healthCode: http.StatusOK,
			readyCode:  http.StatusOK,
		},
		{
			name:       "agent stopped",
			agents:     staticAgents{"position_monitor": {Status: agent.StatusStopped}},
			checks:     map[string]Check{"bus": ok},
			status:     "unhealthy",
			healthCode: http.StatusServiceUnavailable,
			readyCode:  http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.Nop(), tt.agents, "tradecore", "test")
			for name, c := range tt.checks {
				h.AddCheck(name, c)
			}

			code, body := get(t, h.HandleHealth)
			assert.Equal(t, tt.healthCode, code)
			assert.Equal(t, tt.status, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))

			code, _ = get(t, h.HandleReadiness)
			assert.Equal(t, tt.readyCode, code)
		})
	}
}

func TestLiveness(t *testing.T) {
	h := New(logger.Nop(), nil, "tradecore", "test")
	rec := httptest.NewRecorder()
	h.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
