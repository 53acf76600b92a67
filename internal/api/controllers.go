package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trading-agent/internal/risk"
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// getStatus returns the engine's live state and static identity.
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Service.GetSystemStatus(c.Request.Context()))
}

// getAccount returns the current account snapshot.
func (s *Server) getAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.Service.GetAccount(c.Request.Context()))
}

// getPositions returns the open position book.
func (s *Server) getPositions(c *gin.Context) {
	positions := s.Service.GetPositions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

// getStats returns the daily roll-up plus system metrics.
func (s *Server) getStats(c *gin.Context) {
	stats, err := s.Service.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STATS_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getSignals returns recent signal audit rows, newest first.
func (s *Server) getSignals(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	signals, err := s.Service.GetRecentSignals(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, signals)
}

// getOrders returns recent orders, newest first.
func (s *Server) getOrders(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.Service.GetRecentOrders(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, orders)
}

// getTrades returns recent fills, newest first.
func (s *Server) getTrades(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	trades, err := s.Service.GetRecentTrades(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, trades)
}

// getRiskConfig returns the active risk guardrails.
func (s *Server) getRiskConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.Service.GetRiskConfig(c.Request.Context()))
}

// updateRiskConfig swaps in new guardrails after validation.
func (s *Server) updateRiskConfig(c *gin.Context) {
	var cfg risk.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if err := s.Service.UpdateRiskConfig(c.Request.Context(), cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_RISK_CONFIG", err.Error())
		return
	}
	log.Printf("[API] Risk config updated by %s", CurrentUserID(c))
	c.JSON(http.StatusOK, s.Service.GetRiskConfig(c.Request.Context()))
}

// kill engages the kill switch. It requires the dedicated kill token on
// top of the bearer auth: 401 when the header is missing, 403 on a
// mismatch. Idempotent, and it never force-closes positions.
func (s *Server) kill(c *gin.Context) {
	token := c.GetHeader("X-Kill-Token")
	if token == "" {
		respondError(c, http.StatusUnauthorized, "MISSING_KILL_TOKEN", "X-Kill-Token header required")
		return
	}
	if token != s.KillToken {
		respondError(c, http.StatusForbidden, "INVALID_KILL_TOKEN", "kill token mismatch")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req) // body is optional
	if req.Reason == "" {
		req.Reason = "kill endpoint invoked"
	}

	s.Service.Kill(c.Request.Context(), req.Reason)
	log.Printf("[API] Kill switch engaged via API by %s: %s", CurrentUserID(c), req.Reason)

	c.JSON(http.StatusOK, gin.H{
		"status":          "killed",
		"reason":          req.Reason,
		"trading_enabled": false,
	})
}

// getMetrics returns the metrics snapshot as JSON.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// prometheusMetrics returns the Prometheus text exposition.
func (s *Server) prometheusMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, s.Metrics.PrometheusText())
}
