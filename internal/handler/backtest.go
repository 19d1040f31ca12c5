package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"layered-signals/internal/backtest"
	"layered-signals/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type runBacktestRequest struct {
	Symbol    string    `json:"symbol" binding:"required"`
	Timeframe string    `json:"timeframe" binding:"required"`
	From      time.Time `json:"from" binding:"required"`
	To        time.Time `json:"to" binding:"required"`
	Folds     int       `json:"folds"`
	// WeightPolicyVersion pins the replayed weights to a position in the
	// adjustment-event log; omit or 0 for the unadjusted base weights.
	WeightPolicyVersion int64   `json:"weight_policy_version"`
	InitialCapital      float64 `json:"initial_capital"`
	CommissionRate      float64 `json:"commission_rate"`
}

// RunBacktest godoc
// @Summary      Run a backtest
// @Description  Replays stored candles through the consensus pipeline over the requested window
// @Tags         backtest
// @Accept       json
// @Produce      json
// @Param        request  body  runBacktestRequest  true  "Backtest window"
// @Success      200  {object}  backtest.Run
// @Failure      400  {object}  map[string]string
// @Router       /api/backtest/run [post]
func (h *Handler) RunBacktest(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-backtest")
	defer span.End()

	var req runBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) || !domain.IsSupportedTimeframe(req.Timeframe) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported symbol or timeframe"})
		return
	}

	run, err := h.backtests.Run(ctx, backtest.Request{
		Symbol:              symbol,
		Timeframe:           req.Timeframe,
		From:                req.From,
		To:                  req.To,
		Folds:               req.Folds,
		WeightPolicyVersion: req.WeightPolicyVersion,
		InitialCapital:      req.InitialCapital,
		CommissionRate:      req.CommissionRate,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListBacktestRuns godoc
// @Summary      List backtest runs
// @Tags         backtest
// @Produce      json
// @Param        symbol  query  string  false  "Filter by symbol"
// @Param        limit   query  int     false  "Max rows (default 20)"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/backtest/runs [get]
func (h *Handler) ListBacktestRuns(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-backtest-runs")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	runs, err := h.backtests.List(ctx, symbol, intQuery(c, "limit", 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetBacktestRun godoc
// @Summary      Fetch a backtest run
// @Tags         backtest
// @Produce      json
// @Param        id  path  int  true  "Run ID"
// @Success      200  {object}  backtest.Run
// @Failure      404  {object}  map[string]string
// @Router       /api/backtest/runs/{id} [get]
func (h *Handler) GetBacktestRun(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-backtest-run")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	run, err := h.backtests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, backtest.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
