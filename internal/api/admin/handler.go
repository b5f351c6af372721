package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	domain "tradecore/internal/domain/audit"
	"tradecore/internal/domain/position"
	"tradecore/internal/monitor"
	"tradecore/internal/risk"
	"tradecore/pkg/auth"
	"tradecore/pkg/logger"
)

// RiskControl is the operator surface of the risk manager
type RiskControl interface {
	KillSwitchState() risk.KillSwitchState
	ResetKillSwitch(ctx context.Context) error
	CurrentLimits() risk.Limits
}

type AuditReader interface {
	AuditTrail(n int) []domain.Record
}

type MonitorReader interface {
	Stats() monitor.Stats
	Events(n int) []position.MonitorEvent
}

// TokenValidator checks operator bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

var _ TokenValidator = (*auth.JWTService)(nil)

// Handler exposes operator endpoints: kill switch state/reset, recent audit
// records and position monitor stats. Any dependency may be nil, which
// answers 404 on its routes. Every route requires a bearer token; reset
// needs the write scope.
type Handler struct {
	risk    RiskControl
	audit   AuditReader
	monitor MonitorReader
	tokens  TokenValidator
	log     *logger.Logger
}

func New(r RiskControl, a AuditReader, m MonitorReader, tokens TokenValidator, log *logger.Logger) *Handler {
	return &Handler{risk: r, audit: a, monitor: m, tokens: tokens, log: log.With("component", "admin_api")}
}

// Register mounts the routes on mux. Without a token validator nothing is mounted.
func (h *Handler) Register(mux *http.ServeMux) {
	if h.tokens == nil {
		h.log.Warn("Admin routes disabled: no token validator configured")
		return
	}
	mux.HandleFunc("GET /risk/kill-switch", h.authorize(auth.ScopeRead, h.handleKillSwitch))
	mux.HandleFunc("POST /risk/kill-switch/reset", h.authorize(auth.ScopeWrite, h.handleReset))
	mux.HandleFunc("GET /audit", h.authorize(auth.ScopeRead, h.handleAudit))
	mux.HandleFunc("GET /monitor", h.authorize(auth.ScopeRead, h.handleMonitor))
}

type operatorKey struct{}

func (h *Handler) authorize(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tradecore-admin"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		claims, err := h.tokens.ValidateToken(raw)
		if err != nil {
			h.log.Warnw("Admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="tradecore-admin", error="invalid_token"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		if !claims.HasScope(scope) {
			h.log.Warnw("Admin request lacks scope", "operator", claims.Operator, "path", r.URL.Path, "scope", scope)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "token lacks scope " + scope})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, claims.Operator)))
	}
}

func operatorFrom(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}

type killSwitchResponse struct {
	State  risk.KillSwitchState `json:"state"`
	Limits risk.Limits          `json:"limits"`
}

func (h *Handler) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if h.risk == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, killSwitchResponse{
		State:  h.risk.KillSwitchState(),
		Limits: h.risk.CurrentLimits(),
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if h.risk == nil {
		http.NotFound(w, r)
		return
	}
	was := h.risk.KillSwitchState()
	if err := h.risk.ResetKillSwitch(r.Context()); err != nil {
		h.log.Errorw("Kill switch reset failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.log.Warnw("Kill switch reset by operator",
		"operator", operatorFrom(r.Context()),
		"was_active", was.Active,
		"remote", r.RemoteAddr,
	)
	writeJSON(w, http.StatusOK, killSwitchResponse{
		State:  h.risk.KillSwitchState(),
		Limits: h.risk.CurrentLimits(),
	})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.AuditTrail(limit(r, 100)))
}

type monitorResponse struct {
	Stats  monitor.Stats           `json:"stats"`
	Events []position.MonitorEvent `json:"events"`
}

func (h *Handler) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, monitorResponse{
		Stats:  h.monitor.Stats(),
		Events: h.monitor.Events(limit(r, 50)),
	})
}

func limit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
