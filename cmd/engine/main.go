// Package main is the entry point for the futures execution engine.
//
// The engine:
//  1. Loads configuration
//  2. Initializes all components (breaker registry, broker client, storage,
//     market aggregator, order/position managers, strategy state store)
//  3. Starts the execution engine's periodic monitoring loop (C9)
//  4. Serves a Prometheus /metrics endpoint
//  5. Shuts down gracefully on SIGINT/SIGTERM
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rkhandelwal/futures-exec-engine/internal/breaker"
	"github.com/rkhandelwal/futures-exec-engine/internal/broker"
	"github.com/rkhandelwal/futures-exec-engine/internal/config"
	"github.com/rkhandelwal/futures-exec-engine/internal/engine"
	"github.com/rkhandelwal/futures-exec-engine/internal/market"
	"github.com/rkhandelwal/futures-exec-engine/internal/metrics"
	"github.com/rkhandelwal/futures-exec-engine/internal/orders"
	"github.com/rkhandelwal/futures-exec-engine/internal/positions"
	"github.com/rkhandelwal/futures-exec-engine/internal/state"
	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	userID := flag.String("user", "", "user ID whose active strategies to run")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Printf("config loaded: broker=%s mode=%s account=%s", cfg.ActiveBroker, cfg.TradingMode, cfg.AccountID)

	// ── Live mode safety gate ──
	// Both --confirm-live flag AND ALGO_LIVE_CONFIRMED=true env var are
	// required to start in live mode. This prevents accidental live trading.
	if cfg.TradingMode == config.ModeLive {
		envConfirmed := os.Getenv("ALGO_LIVE_CONFIRMED") == "true"
		if !*confirmLive || !envConfirmed {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
			fmt.Fprintln(os.Stderr, "  ║                    ⚠  LIVE MODE BLOCKED  ⚠                ║")
			fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
			fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:       ║")
			fmt.Fprintln(os.Stderr, "  ║                                                           ║")
			fmt.Fprintln(os.Stderr, "  ║  1. CLI flag:   --confirm-live                            ║")
			fmt.Fprintln(os.Stderr, "  ║  2. Env var:    ALGO_LIVE_CONFIRMED=true                  ║")
			fmt.Fprintln(os.Stderr, "  ║                                                           ║")
			fmt.Fprintln(os.Stderr, "  ║  Example:                                                 ║")
			fmt.Fprintln(os.Stderr, "  ║  ALGO_LIVE_CONFIRMED=true go run ./cmd/engine \\            ║")
			fmt.Fprintln(os.Stderr, "  ║    --confirm-live                                         ║")
			fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
			fmt.Fprintln(os.Stderr, "")
			if !*confirmLive {
				fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
			}
			if !envConfirmed {
				fmt.Fprintln(os.Stderr, "  MISSING: ALGO_LIVE_CONFIRMED=true environment variable")
			}
			fmt.Fprintln(os.Stderr, "")
			os.Exit(1)
		}
		logger.Println("LIVE MODE ACTIVE — real orders will be placed on the exchange")
	} else {
		logger.Println("PAPER MODE — simulated orders only, no real money at risk")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	breakers := breaker.NewRegistry(logger)

	var activeBroker broker.Client
	if cfg.TradingMode == config.ModePaper {
		activeBroker = broker.NewPaperClient(cfg.Capital)
		logger.Println("using PAPER broker")
	} else {
		brokerCfg := broker.Config{
			AccountType: broker.AccountType(cfg.Broker.AccountType),
			APIBaseLive: cfg.Broker.APIBaseLive,
			APIBaseDemo: cfg.Broker.APIBaseDemo,
			Username:    cfg.Broker.Username,
			Password:    cfg.Broker.Password,
			AppID:       cfg.Broker.AppID,
			AppSecret:   cfg.Broker.AppSecret,
			DeviceID:    cfg.Broker.DeviceID,
		}
		httpClient := broker.NewHTTPClient(brokerCfg, breakers, logger)

		// openPositionQty is conservative by default (always "open"), since a
		// resolver mistake that skips a rollover switch is far cheaper than
		// one that rolls a contract out from under a live position. A real
		// per-symbol lookup would need the account ID threaded in here; left
		// as a fixed stub until C5's contract rollover path sees live use.
		resolver := broker.NewSymbolResolver(httpClient.ContractsByBase, func(baseInstrument string) int {
			return 1
		})
		httpClient.AttachResolver(resolver)
		go httpClient.StartTokenRefresh(ctx)

		activeBroker = httpClient
		logger.Printf("using LIVE broker: %s", cfg.ActiveBroker)
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	logger.Println("database connected")

	aggregator := market.NewAggregator(logger)
	orderMgr := orders.NewManager(store, activeBroker)
	positionMgr := positions.NewManager(store)
	stateStore := state.NewStore(store)

	eng := engine.New(store, activeBroker, aggregator, orderMgr, positionMgr, stateStore, breakers, cfg.AccountID, logger)

	notifier := engine.NewNotifier(cfg.DatabaseURL, logger, nil, nil)
	eng.AttachNotifier(notifier)

	metrics.Init()
	if cfg.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
		logger.Printf("metrics listening on :%d/metrics", cfg.MetricsPort)
	}

	if err := eng.Start(ctx, *userID); err != nil {
		logger.Fatalf("failed to start engine: %v", err)
	}
	logger.Println("engine started")

	breakerReportTicker := time.NewTicker(30 * time.Second)
	defer breakerReportTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-breakerReportTicker.C:
				eng.ReportBreakerStates()
			}
		}
	}()

	<-ctx.Done()
	logger.Println("shutdown signal received, stopping engine...")
	eng.Stop()
	logger.Println("engine stopped cleanly")
}
