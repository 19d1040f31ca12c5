package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"layered-signals/internal/adaptive"
	"layered-signals/internal/backtest"
	"layered-signals/internal/config"
	"layered-signals/internal/consensus"
	"layered-signals/internal/db"
	"layered-signals/internal/domain"
	"layered-signals/internal/provider"
	"layered-signals/pkg/tracing"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initTracerFunc   = tracing.InitTracer
)

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx := context.Background()
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	initPostgresFunc(ctx)

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	candles := provider.NewCandleRepository(db.Pool, tracer)
	backtestRepo := backtest.NewRepository(db.Pool, tracer)
	policies := adaptive.NewEventLog(adaptive.NewRepository(tracer), db.Pool)

	if err := run(ctx, tracer, cfg, candles, backtestRepo, policies, backtestRepo, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, tracer trace.Tracer, cfg *config.Config,
	candles backtest.CandleSource, store backtest.RunStore,
	policies backtest.PolicySource, archive backtest.ObservationSource,
	args []string, out io.Writer) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	fs.SetOutput(out)
	symbol := fs.String("symbol", "BTC", "instrument to replay")
	timeframe := fs.String("timeframe", "1h", "candle timeframe")
	fromStr := fs.String("from", "", "window start, YYYY-MM-DD or RFC 3339 (required)")
	toStr := fs.String("to", "", "window end (defaults to now)")
	folds := fs.Int("folds", 0, "additional walk-forward folds, 0 disables")
	policy := fs.Int64("policy", 0, "weight policy version (adjustment-event log position), 0 replays base weights")
	capital := fs.Float64("capital", 0, "initial capital, 0 keeps the default")
	commission := fs.Float64("commission", 0, "commission rate per side, 0 keeps the configured rate")
	save := fs.Bool("save", false, "persist the run so the API can list it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from, to, err := parseWindow(*fromStr, *toStr)
	if err != nil {
		return err
	}

	if !*save {
		store = nil
	}
	engine := consensus.NewEngine(tracer, consensus.Config{
		LongThreshold:  cfg.LongThreshold,
		ShortThreshold: cfg.ShortThreshold,
	})
	svc := backtest.NewService(tracer, candles, store, backtest.Config{
		LongThreshold:  cfg.LongThreshold,
		ShortThreshold: cfg.ShortThreshold,
		TargetPct:      cfg.TargetPct,
		StopPct:        cfg.StopPct,
		CommissionRate: cfg.CommissionRate,
		SlippageRate:   cfg.SlippageRate,
	}, engine, baselineSnapshot(cfg), policies, archive)

	result, err := svc.Run(ctx, backtest.Request{
		Symbol:              strings.ToUpper(*symbol),
		Timeframe:           *timeframe,
		From:                from,
		To:                  to,
		Folds:               *folds,
		WeightPolicyVersion: *policy,
		InitialCapital:      *capital,
		CommissionRate:      *commission,
	})
	if err != nil {
		return err
	}

	printRun(out, result)
	return nil
}

// baselineSnapshot is the policy base for CLI replays: the recomputed
// technical layer at its configured group weight. Archived layers missing
// from the base replay on a unit base weight, and the requested policy's
// events fold on top either way.
func baselineSnapshot(cfg *config.Config) domain.WeightSnapshot {
	return domain.WeightSnapshot{
		TakenAt: time.Now().UTC(),
		Layers: map[string]domain.LayerWeight{
			"tech-momentum": {
				Group:      domain.GroupTechnical,
				BaseWeight: cfg.GroupWeights[domain.GroupTechnical],
				Multiplier: 1,
				Enabled:    true,
			},
		},
		GroupWeights: cfg.GroupWeights,
	}
}

func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	if strings.TrimSpace(fromStr) == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-from is required")
	}
	from, err := parseTime(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -from %q: %w", fromStr, err)
	}
	to := time.Now().UTC()
	if strings.TrimSpace(toStr) != "" {
		if to, err = parseTime(toStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to %q: %w", toStr, err)
		}
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("window is empty: %s to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func printRun(out io.Writer, run backtest.Run) {
	m := run.Result.Metrics
	fmt.Fprintf(out, "%s/%s  %s to %s  (policy v%d)\n", run.Symbol, run.Timeframe,
		run.From.Format("2006-01-02"), run.To.Format("2006-01-02"), run.Config.WeightPolicyVersion)
	if run.ID != 0 {
		fmt.Fprintf(out, "saved as run %d\n", run.ID)
	}
	fmt.Fprintf(out, "trades:         %d (%d wins, %.1f%% win rate)\n", m.Trades, m.Wins, m.WinRate*100)
	fmt.Fprintf(out, "total return:   %+.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(out, "avg return:     %+.3f%%\n", m.AvgReturn*100)
	fmt.Fprintf(out, "max drawdown:   %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(out, "risk adjusted:  %.3f\n", m.RiskAdjusted)
	fmt.Fprintf(out, "final capital:  %.2f\n", m.FinalCapital)
	for i, fold := range run.Result.Folds {
		fmt.Fprintf(out, "fold %d  %s to %s: %d trades, %+.2f%% return\n",
			i+1, fold.From.Format("2006-01-02"), fold.To.Format("2006-01-02"),
			fold.Metrics.Trades, fold.Metrics.TotalReturn*100)
	}
}
