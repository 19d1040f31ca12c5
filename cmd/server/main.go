package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"layered-signals/internal/adaptive"
	"layered-signals/internal/backtest"
	"layered-signals/internal/bot"
	"layered-signals/internal/cache"
	"layered-signals/internal/calibration"
	"layered-signals/internal/config"
	"layered-signals/internal/consensus"
	"layered-signals/internal/db"
	"layered-signals/internal/domain"
	"layered-signals/internal/handler"
	"layered-signals/internal/job"
	"layered-signals/internal/layer"
	"layered-signals/internal/ml"
	"layered-signals/internal/provider"
	"layered-signals/internal/recorder"
	"layered-signals/internal/service"
	"layered-signals/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "layered-signals/docs"
)

type backgroundJob interface {
	Start(ctx context.Context)
}

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer
	newProvidersFunc = defaultProviders
	newTelegramBot   = bot.New
	startBotFunc     = func(b *bot.TelegramBot) { go b.Start() }
	startJobFunc     = func(j backgroundJob, ctx context.Context) { go j.Start(ctx) }
	probeLayersFunc  = func(ctx context.Context, registry *layer.Registry) {
		registry.ProbeAll(ctx, 10*time.Second)
	}
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

type layerRegistration struct {
	provider layer.Provider
	weight   float64
}

func defaultProviders(tracer trace.Tracer, cfg *config.Config, candles *provider.CandleRepository, forecasts provider.Forecaster) []layerRegistration {
	var llm provider.BatchScorer
	if scorer := provider.NewOpenAIScorer(cfg.OpenAIAPIKey, cfg.OpenAIModel); scorer != nil {
		llm = scorer
	}
	weights := cfg.GroupWeights
	return []layerRegistration{
		{provider.NewTechnicalProvider(candles, tracer), weights[domain.GroupTechnical]},
		{provider.NewModelForecastProvider(forecasts, tracer), weights[domain.GroupTechnical]},
		{provider.NewSentimentProvider(provider.NewRedditHeadlineSource(tracer), llm, tracer), weights[domain.GroupSentiment]},
		{provider.NewOnChainActivityProvider(tracer, os.Getenv("MEMPOOL_BASE_URL")), weights[domain.GroupOnChain]},
		{provider.NewMacroClimateProvider(tracer), weights[domain.GroupMacro]},
		{provider.NewMarketRiskProvider(candles, tracer), weights[domain.GroupRisk]},
	}
}

// latestReader adapts the recorder's read path to the bot's /signal command.
type latestReader struct {
	rec *recorder.Service
}

func (r latestReader) Latest(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	return r.rec.LatestSignal(ctx, symbol, timeframe)
}

// @title           Layered Signals API
// @version         1.0
// @description     Adaptive multi-layer signal ensemble with OpenTelemetry tracing.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Layer registry and providers
	candleRepo := provider.NewCandleRepository(db.Pool, tracer)
	mlRepo := ml.NewRepository(db.Pool, tracer)
	mlSvc := ml.NewService(tracer, candleRepo, mlRepo, ml.Config{})
	registry := layer.NewRegistry()
	for _, reg := range newProvidersFunc(tracer, cfg, candleRepo, mlSvc) {
		if err := registry.Register(reg.provider, reg.weight); err != nil {
			log.Fatalf("failed to register layer: %v", err)
		}
	}
	probeLayersFunc(ctx, registry)

	invoker := layer.NewInvoker(tracer, registry, layer.InvokerConfig{
		CallTimeout:      time.Duration(cfg.LayerTimeoutSecs) * time.Second,
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         time.Duration(cfg.BreakerCooldownSecs) * time.Second,
		MaxBackoffFactor: cfg.BreakerMaxBackoffFactor,
	})

	engine := consensus.NewEngine(tracer, consensus.Config{
		LongThreshold:  cfg.LongThreshold,
		ShortThreshold: cfg.ShortThreshold,
	})

	// Learning: calibration and the adaptive weight tracker
	calibRepo := calibration.NewRepository(db.Pool, tracer)
	calibrator := calibration.NewCalibrator(tracer, calibRepo, calibration.Config{
		MinSamples:   cfg.CalibrationMinSamples,
		Deviation:    cfg.CalibrationDeviation,
		UpwardCap:    cfg.CalibrationUpwardCap,
		RefreshEvery: time.Duration(cfg.CalibrationRefreshSecs) * time.Second,
	})

	if db.Pool != nil {
		if err := calibrator.Refresh(ctx); err != nil {
			log.Printf("initial calibration bucket load failed: %v", err)
		}
	}

	adaptiveRepo := adaptive.NewRepository(tracer)
	tracker := adaptive.NewTracker(tracer, adaptiveRepo, db.Pool, registry, adaptive.Config{
		MinSamples:       cfg.TrackerMinSamples,
		ContributionBand: cfg.ContributionBand,
		DisableCooldown:  time.Duration(cfg.DisableCooldownHours) * time.Hour,
		GroupWeights:     cfg.GroupWeights,
	})
	if db.Pool != nil {
		if err := tracker.PublishSnapshot(ctx); err != nil {
			log.Printf("initial weight snapshot publish failed: %v", err)
		}
	}

	// Outcome recorder
	var signalCache *cache.SignalCache
	if cache.Client != nil {
		signalCache = cache.NewSignalCache(cache.Client)
	}
	recorderRepo := recorder.NewRepository(db.Pool, tracer)
	recorderSvc := recorder.NewService(tracer, recorderRepo, tracker, signalCache)

	// Telegram bot doubles as the notifier
	tgBot, err := newTelegramBot(cfg.TelegramBotToken, cfg.TelegramChatID, latestReader{rec: recorderSvc}, registry)
	if err != nil {
		log.Fatalf("failed to start Telegram bot: %v", err)
	}
	var notifier service.Notifier
	if tgBot != nil {
		notifier = tgBot
		startBotFunc(tgBot)
	}

	signalSvc := service.NewSignalService(tracer, invoker, engine, tracker, calibrator, recorderSvc, candleRepo, notifier, service.Config{
		TargetPct: cfg.TargetPct,
		StopPct:   cfg.StopPct,
	})

	// Backtesting over stored candles and archived observations. Policies
	// are rebuilt from the adjustment-event log, never from the live
	// snapshot, so a replayed timestep only sees adjustments made before it.
	audit := adaptive.NewEventLog(adaptiveRepo, db.Pool)
	backtestRepo := backtest.NewRepository(db.Pool, tracer)
	backtestSvc := backtest.NewService(tracer, candleRepo, backtestRepo, backtest.Config{
		LongThreshold:  cfg.LongThreshold,
		ShortThreshold: cfg.ShortThreshold,
		TargetPct:      cfg.TargetPct,
		StopPct:        cfg.StopPct,
		CommissionRate: cfg.CommissionRate,
		SlippageRate:   cfg.SlippageRate,
	}, engine, backtest.BaseSnapshot(registry.Descriptors(), cfg.GroupWeights), audit, backtestRepo)

	// Background jobs (stopped by ctx cancel)
	scheduler := job.NewSignalScheduler(tracer, signalSvc, time.Duration(cfg.SchedulerIntervalSecs)*time.Second, cfg.SchedulerTimeframes)
	expiry := job.NewExpiryJob(tracer, recorderSvc, candleRepo, 15*time.Minute, time.Duration(cfg.TradeMaxAgeHours)*time.Hour, 0)
	learning := job.NewLearningRefreshJob(tracer, tracker, time.Duration(cfg.LearningRefreshSecs)*time.Second)
	training := job.NewTrainingJob(tracer, mlSvc, 24*time.Hour, cfg.SchedulerTimeframes)
	startJobFunc(scheduler, ctx)
	startJobFunc(expiry, ctx)
	startJobFunc(learning, ctx)
	startJobFunc(training, ctx)

	// Create handlers and routes
	h := handler.New(tracer, signalSvc, recorderSvc, registry, invoker, audit, backtestSvc)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("layered-signals"))

	h.RegisterRoutes(r, handler.APIKeyAuth(cfg.APIKey))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()
	if tgBot != nil {
		tgBot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
