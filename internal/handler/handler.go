package handler

import (
	"context"
	"time"

	"layered-signals/internal/backtest"
	"layered-signals/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type SignalService interface {
	Generate(ctx context.Context, symbol, timeframe string) (domain.Signal, error)
	Latest(ctx context.Context, symbol, timeframe string) (domain.Signal, error)
	List(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type TradeService interface {
	OpenTrade(ctx context.Context, signalID int64, entryPrice float64, entryTime time.Time) (domain.Trade, error)
	CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason) (domain.Trade, error)
	GetTrade(ctx context.Context, id int64) (domain.Trade, error)
}

type LayerDirectory interface {
	Descriptors() []domain.LayerDescriptor
}

type BreakerSource interface {
	BreakerState(name string) domain.BreakerState
}

// WeightAudit reads the append-only adjustment log for one layer.
type WeightAudit interface {
	Events(ctx context.Context, layer string, limit int) ([]domain.WeightAdjustmentEvent, error)
}

type BacktestService interface {
	Run(ctx context.Context, req backtest.Request) (backtest.Run, error)
	Get(ctx context.Context, id int64) (backtest.Run, error)
	List(ctx context.Context, symbol string, limit int) ([]backtest.Run, error)
}

type Handler struct {
	tracer    trace.Tracer
	signals   SignalService
	trades    TradeService
	layers    LayerDirectory
	breakers  BreakerSource
	audit     WeightAudit
	backtests BacktestService
}

func New(tracer trace.Tracer, signals SignalService, trades TradeService, layers LayerDirectory,
	breakers BreakerSource, audit WeightAudit, backtests BacktestService) *Handler {
	return &Handler{
		tracer:    tracer,
		signals:   signals,
		trades:    trades,
		layers:    layers,
		breakers:  breakers,
		audit:     audit,
		backtests: backtests,
	}
}

// RegisterRoutes mounts all endpoints. Middleware (like API key auth) applies
// to the /api group only, so health checks stay open.
func (h *Handler) RegisterRoutes(r *gin.Engine, middleware ...gin.HandlerFunc) {
	r.GET("/health", h.Health)

	api := r.Group("/api", middleware...)
	api.POST("/signals/generate", h.GenerateSignal)
	api.GET("/signals", h.ListSignals)
	api.GET("/signals/latest", h.LatestSignal)
	api.GET("/layers", h.GetLayers)
	api.GET("/layers/:name/events", h.GetLayerEvents)
	api.POST("/trades", h.OpenTrade)
	api.POST("/trades/:id/close", h.CloseTrade)
	api.GET("/trades/:id", h.GetTrade)
	api.POST("/backtest/run", h.RunBacktest)
	api.GET("/backtest/runs", h.ListBacktestRuns)
	api.GET("/backtest/runs/:id", h.GetBacktestRun)
}
