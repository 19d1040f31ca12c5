package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"layered-signals/internal/backtest"
	"layered-signals/internal/domain"
	"layered-signals/internal/recorder"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type fakeSignals struct {
	signal      domain.Signal
	generateErr error
	latestErr   error
}

func (f *fakeSignals) Generate(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	if f.generateErr != nil {
		return domain.Signal{}, f.generateErr
	}
	return f.signal, nil
}

func (f *fakeSignals) Latest(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	if f.latestErr != nil {
		return domain.Signal{}, f.latestErr
	}
	return f.signal, nil
}

func (f *fakeSignals) List(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	return []domain.Signal{f.signal}, nil
}

type fakeTrades struct {
	trade    domain.Trade
	openErr  error
	closeErr error
}

func (f *fakeTrades) OpenTrade(ctx context.Context, signalID int64, entryPrice float64, entryTime time.Time) (domain.Trade, error) {
	if f.openErr != nil {
		return domain.Trade{}, f.openErr
	}
	return f.trade, nil
}

func (f *fakeTrades) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason) (domain.Trade, error) {
	if f.closeErr != nil {
		return domain.Trade{}, f.closeErr
	}
	return f.trade, nil
}

func (f *fakeTrades) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	return f.trade, nil
}

type fakeLayers struct {
	descriptors []domain.LayerDescriptor
}

func (f *fakeLayers) Descriptors() []domain.LayerDescriptor { return f.descriptors }

type fakeBreakers struct{}

func (fakeBreakers) BreakerState(name string) domain.BreakerState { return domain.BreakerOpen }

type fakeAudit struct {
	events []domain.WeightAdjustmentEvent
}

func (f *fakeAudit) Events(ctx context.Context, layer string, limit int) ([]domain.WeightAdjustmentEvent, error) {
	return f.events, nil
}

type fakeBacktests struct {
	run     backtest.Run
	runErr  error
	lastReq backtest.Request
}

func (f *fakeBacktests) Run(ctx context.Context, req backtest.Request) (backtest.Run, error) {
	f.lastReq = req
	if f.runErr != nil {
		return backtest.Run{}, f.runErr
	}
	return f.run, nil
}

func (f *fakeBacktests) Get(ctx context.Context, id int64) (backtest.Run, error) {
	return f.run, nil
}

func (f *fakeBacktests) List(ctx context.Context, symbol string, limit int) ([]backtest.Run, error) {
	return []backtest.Run{f.run}, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func defaultHandler() *Handler {
	return New(testTracer,
		&fakeSignals{signal: domain.Signal{ID: 1, Symbol: "BTC", Timeframe: "1h", Direction: domain.DirectionLong}},
		&fakeTrades{trade: domain.Trade{ID: 5, SignalID: 1}},
		&fakeLayers{descriptors: []domain.LayerDescriptor{{Name: "tech-momentum", Group: domain.GroupTechnical}}},
		fakeBreakers{},
		&fakeAudit{events: []domain.WeightAdjustmentEvent{{Layer: "tech-momentum", NewMultiplier: 1.5}}},
		&fakeBacktests{run: backtest.Run{ID: 9, Symbol: "BTC"}},
	)
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, _ := http.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerateSignal(t *testing.T) {
	r := newTestRouter(defaultHandler())

	w := doJSON(t, r, http.MethodPost, "/api/signals/generate", gin.H{"symbol": "btc", "timeframe": "1h"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sig domain.Signal
	if err := json.Unmarshal(w.Body.Bytes(), &sig); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sig.ID != 1 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
}

func TestGenerateSignalValidation(t *testing.T) {
	r := newTestRouter(defaultHandler())

	if w := doJSON(t, r, http.MethodPost, "/api/signals/generate", gin.H{"symbol": "NOPE", "timeframe": "1h"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad symbol, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/signals/generate", gin.H{"symbol": "BTC", "timeframe": "9h"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timeframe, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/signals/generate", gin.H{"symbol": "BTC"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing timeframe, got %d", w.Code)
	}
}

func TestGenerateSignalOutOfOrderMapsToConflict(t *testing.T) {
	h := defaultHandler()
	h.signals = &fakeSignals{generateErr: recorder.ErrOutOfOrder}
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/api/signals/generate", gin.H{"symbol": "BTC", "timeframe": "1h"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestLatestSignalNotFound(t *testing.T) {
	h := defaultHandler()
	h.signals = &fakeSignals{latestErr: recorder.ErrSignalNotFound}
	r := newTestRouter(h)

	req, _ := http.NewRequest(http.MethodGet, "/api/signals/latest?symbol=BTC&timeframe=1h", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestOpenTradeErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{recorder.ErrSignalNotFound, http.StatusNotFound},
		{recorder.ErrTradeExists, http.StatusConflict},
		{recorder.ErrSignalNotOpen, http.StatusConflict},
		{recorder.ErrNeutralSignal, http.StatusBadRequest},
	}
	for _, tc := range cases {
		h := defaultHandler()
		h.trades = &fakeTrades{openErr: tc.err}
		r := newTestRouter(h)
		w := doJSON(t, r, http.MethodPost, "/api/trades", gin.H{"signal_id": 1, "entry_price": 50000})
		if w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestOpenTradeCreated(t *testing.T) {
	r := newTestRouter(defaultHandler())
	w := doJSON(t, r, http.MethodPost, "/api/trades", gin.H{"signal_id": 1, "entry_price": 50000})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCloseTradeValidatesReason(t *testing.T) {
	r := newTestRouter(defaultHandler())

	if w := doJSON(t, r, http.MethodPost, "/api/trades/5/close", gin.H{"exit_price": 51000, "reason": "vibes"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad reason, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/trades/abc/close", gin.H{"exit_price": 51000, "reason": "manual"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/trades/5/close", gin.H{"exit_price": 51000, "reason": "target"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetLayersIncludesBreakerState(t *testing.T) {
	r := newTestRouter(defaultHandler())

	req, _ := http.NewRequest(http.MethodGet, "/api/layers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payload struct {
		Layers []domain.LayerDescriptor `json:"layers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Layers) != 1 || payload.Layers[0].Breaker != domain.BreakerOpen {
		t.Fatalf("expected live breaker state in diagnostics, got %+v", payload.Layers)
	}
}

func TestRunBacktest(t *testing.T) {
	backtests := &fakeBacktests{run: backtest.Run{ID: 9, Symbol: "BTC"}}
	h := New(testTracer,
		&fakeSignals{signal: domain.Signal{ID: 1, Symbol: "BTC", Timeframe: "1h", Direction: domain.DirectionLong}},
		&fakeTrades{trade: domain.Trade{ID: 5, SignalID: 1}},
		&fakeLayers{descriptors: []domain.LayerDescriptor{{Name: "tech-momentum", Group: domain.GroupTechnical}}},
		fakeBreakers{},
		&fakeAudit{},
		backtests,
	)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/api/backtest/run", gin.H{
		"symbol":                "BTC",
		"timeframe":             "1h",
		"from":                  "2026-01-01T00:00:00Z",
		"to":                    "2026-02-01T00:00:00Z",
		"weight_policy_version": 7,
		"initial_capital":       25000,
		"commission_rate":       0.0015,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	req := backtests.lastReq
	if req.WeightPolicyVersion != 7 || req.InitialCapital != 25000 || req.CommissionRate != 0.0015 {
		t.Fatalf("policy and ledger parameters must pass through: %+v", req)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyAuth("sekret"))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong key, got %d", w.Code)
	}

	req.Header.Set("X-API-Key", "sekret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid key, got %d", w.Code)
	}
}
