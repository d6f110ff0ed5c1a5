package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rkulkarni/tradecore/config"
	"github.com/rkulkarni/tradecore/internal/broker"
	"github.com/rkulkarni/tradecore/internal/clock"
	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/rkulkarni/tradecore/internal/engine"
	"github.com/rkulkarni/tradecore/internal/httpapi"
	"github.com/rkulkarni/tradecore/internal/storage"
	"github.com/rkulkarni/tradecore/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	status := flag.Bool("status", false, "query a running engine's /status endpoint and print a table, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *status {
		if err := printStatusTable(cfg.HTTP.Addr); err != nil {
			slog.Error("status query failed", "err", err)
			os.Exit(1)
		}
		return
	}

	mode := domain.ModeLive
	if cfg.Broker.PaperTrading {
		mode = domain.ModePaper
	}

	slog.Info("tradecore engine starting",
		"config", *configPath,
		"mode", mode,
		"timezone", cfg.Clock.Timezone,
	)

	store, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}

	var liveAdapter broker.Adapter
	if mode == domain.ModeLive {
		liveAdapter = broker.NewLive(cfg.Broker.BaseURL, broker.Credentials{
			ConsumerKey: cfg.Broker.ConsumerKey,
			UCC:         cfg.Broker.UCC,
			Mobile:      cfg.Broker.Mobile,
			PIN:         cfg.Broker.PIN,
			TOTPSeed:    cfg.Broker.TOTPSeed,
		})
	}

	eng := engine.New(engine.Deps{
		Clock:       clock.New(cfg.Clock.Timezone, cfg.Clock.SquareOffHour, cfg.Clock.SquareOffMin),
		Store:       store,
		FeedURL:     cfg.Broker.FeedURL,
		Mode:        mode,
		LiveAdapter: liveAdapter,
		Logger:      slog.Default(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Boot(ctx); err != nil {
		slog.Error("engine boot failed", "err", err)
		os.Exit(1)
	}

	// Symbols, strategy choice and per-run risk limits are supplied by the
	// operator via POST /start once the process is up, not read from the
	// boot-time YAML, since a session's traded symbols change daily.
	httpSrv := httpapi.New(cfg.HTTP.Addr, eng, cfg.HTTP.WebhookPassphrase, cfg.HTTP.WebhookRatePerSec, cfg.HTTP.WebhookBurst, formulaFor)

	go func() {
		slog.Info("control surface listening", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil {
			slog.Error("http server exited", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Warn("engine shutdown error", "err", err)
	}

	slog.Info("tradecore engine stopped cleanly")
}

// formulaFor builds the Formula for one configured symbol. It always returns
// an EMACross; no strategy name is consulted. Missing params fall back to
// EMACross's own defaults.
func formulaFor(symbol string, params map[string]float64) strategy.Formula {
	fast := int(params["fastPeriod"])
	slow := int(params["slowPeriod"])
	stopLoss := params["stopLossFrac"]
	return strategy.NewEMACross(fast, slow, stopLoss)
}

// printStatusTable queries a running engine's /status endpoint and renders
// it as a table, grounded on console.go's printTable reporting shape.
func printStatusTable(addr string) error {
	url := fmt.Sprintf("http://%s/status", addr)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("printStatusTable: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	var snapshots []domain.StrategySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		return fmt.Errorf("printStatusTable: decode response: %w", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("no active strategies")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Position", "Avg Price", "Last Price", "Unrealized PnL")
	for _, s := range snapshots {
		table.Append(
			s.Symbol,
			fmt.Sprintf("%d", s.Position),
			fmt.Sprintf("%.2f", s.AvgPrice),
			fmt.Sprintf("%.2f", s.LastPrice),
			fmt.Sprintf("%.2f", s.UnrealizedPnl),
		)
	}
	table.Render()
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
